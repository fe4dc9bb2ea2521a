package nl2sql

import (
	"fmt"
	"strings"
	"unicode"
)

// Anchor is the table assumed when a generated SELECT omits its FROM clause.
type Anchor struct {
	Table string
	Alias string
}

var DefaultAnchor = Anchor{Table: "sales", Alias: "s"}

// AnchorFor picks the anchor table: the configured table when set, otherwise
// the only table of the schema, otherwise DefaultAnchor.
func AnchorFor(tables []string, configuredTable, configuredAlias string) Anchor {
	table := strings.TrimSpace(configuredTable)
	if table == "" && len(tables) == 1 {
		table = strings.TrimSpace(tables[0])
	}
	if table == "" {
		table = DefaultAnchor.Table
	}
	alias := strings.TrimSpace(configuredAlias)
	if alias == "" {
		alias = aliasFor(table)
	}
	return Anchor{Table: table, Alias: alias}
}

func aliasFor(table string) string {
	for _, r := range table {
		if unicode.IsLetter(r) {
			return strings.ToLower(string(r))
		}
	}
	return DefaultAnchor.Alias
}

type Repairer struct {
	Anchor Anchor
}

func NewRepairer(anchor Anchor) *Repairer {
	if anchor.Table == "" {
		anchor.Table = DefaultAnchor.Table
	}
	if anchor.Alias == "" {
		anchor.Alias = aliasFor(anchor.Table)
	}
	return &Repairer{Anchor: anchor}
}

// Repair fixes structurally incomplete SELECT statements. Other statements are
// returned unchanged.
func (r *Repairer) Repair(candidate Candidate) (Candidate, error) {
	statement := strings.TrimSpace(string(candidate))
	if leadingKeywordOf(statement) != "SELECT" {
		return Candidate(statement), nil
	}

	if !hasFrom(statement) {
		rewritten, err := r.anchorStatement(statement)
		if err != nil {
			return "", err
		}
		statement = rewritten
	}

	if countSelects(statement) > 1 {
		return "", NewError(KindRepairFailure, "multiple SELECT statements not supported", nil)
	}

	list := selectList(statement)
	if !strings.Contains(list, "*") && len(splitColumns(list)) == 0 {
		return "", NewError(KindRepairFailure, "SELECT statement must specify at least one column", nil)
	}
	return Candidate(statement), nil
}

func (r *Repairer) anchorStatement(statement string) (string, error) {
	alias := r.Anchor.Alias
	list := selectList(statement)
	if strings.Contains(list, "*") {
		return fmt.Sprintf("SELECT %s.* FROM %s %s;", alias, r.Anchor.Table, alias), nil
	}

	columns := splitColumns(list)
	if len(columns) == 0 {
		return "", NewError(KindRepairFailure, "SELECT statement must include a FROM clause and specify columns", nil)
	}
	qualified := make([]string, 0, len(columns))
	for _, column := range columns {
		qualified = append(qualified, qualifyColumn(column, alias))
	}
	return fmt.Sprintf("SELECT %s FROM %s %s;", strings.Join(qualified, ", "), r.Anchor.Table, alias), nil
}

func qualifyColumn(column, alias string) string {
	if strings.Contains(column, ".") {
		return column
	}
	if match := asAlias.FindStringSubmatch(column); match != nil {
		return fmt.Sprintf("%s.%s AS %s", alias, strings.TrimSpace(match[1]), strings.TrimSpace(match[2]))
	}
	return alias + "." + column
}

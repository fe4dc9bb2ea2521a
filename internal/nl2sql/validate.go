package nl2sql

import (
	"fmt"
	"regexp"
	"strings"
)

// Denylist holds the operations that must never reach the database.
var Denylist = []string{
	"DROP DATABASE",
	"DROP TABLE",
	"TRUNCATE",
	"DELETE FROM",
	"UPDATE",
	"INSERT INTO",
	"CREATE TABLE",
	"ALTER TABLE",
}

var denylistPatterns = compileDenylist(Denylist)

func compileDenylist(terms []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		words := strings.Fields(term)
		for i := range words {
			words[i] = regexp.QuoteMeta(words[i])
		}
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+strings.Join(words, `\s+`)+`\b`))
	}
	return patterns
}

// CheckDenylist fails with KindDeniedOperation when the statement contains any
// denied operation, in any letter case and with any whitespace between words.
// Matching is on whole words: identifiers that merely contain a denied term,
// such as last_update or created_by, are not rejected.
func CheckDenylist(statement string) error {
	for i, pattern := range denylistPatterns {
		if pattern.MatchString(statement) {
			return NewError(KindDeniedOperation, fmt.Sprintf("statement contains denied operation %s", Denylist[i]), nil)
		}
	}
	return nil
}

// ValidatedStatement is a statement that passed Validate. The zero value is
// not executable.
type ValidatedStatement struct {
	sql string
}

func (v ValidatedStatement) SQL() string {
	return v.sql
}

func (v ValidatedStatement) IsZero() bool {
	return v.sql == ""
}

// UncheckedStatement wraps sql without running Validate. It exists for test
// fixtures of execution code; query.Gateway still applies the denylist to it.
func UncheckedStatement(sql string) ValidatedStatement {
	return ValidatedStatement{sql: sql}
}

// Validate is the last gate before execution. The denylist is checked first so
// a denied statement is always reported as KindDeniedOperation.
func Validate(candidate Candidate) (ValidatedStatement, error) {
	statement := strings.TrimSpace(string(candidate))
	if statement == "" {
		return ValidatedStatement{}, NewError(KindInvalidStatement, "statement is empty", nil)
	}
	if err := CheckDenylist(statement); err != nil {
		return ValidatedStatement{}, err
	}
	if keyword := leadingKeywordOf(statement); keyword != "SELECT" {
		return ValidatedStatement{}, NewError(KindDeniedOperation, fmt.Sprintf("only SELECT statements are allowed, got %s", keyword), nil)
	}
	if strings.Contains(strings.TrimSuffix(statement, ";"), ";") {
		return ValidatedStatement{}, NewError(KindInvalidStatement, "only a single statement is allowed", nil)
	}
	if countSelects(statement) > 1 {
		return ValidatedStatement{}, NewError(KindRepairFailure, "multiple SELECT statements not supported", nil)
	}
	if !hasFrom(statement) {
		return ValidatedStatement{}, NewError(KindInvalidStatement, "SELECT statement must include a FROM clause", nil)
	}
	if len(splitColumns(selectList(statement))) == 0 {
		return ValidatedStatement{}, NewError(KindRepairFailure, "SELECT statement must specify at least one column", nil)
	}
	if !strings.HasSuffix(statement, ";") {
		statement += ";"
	}
	return ValidatedStatement{sql: statement}, nil
}

package nl2sql

import (
	"regexp"
	"strings"
)

var (
	selectKeyword  = regexp.MustCompile(`(?i)\bSELECT\b`)
	fromKeyword    = regexp.MustCompile(`(?i)\bFROM\b`)
	leadingKeyword = regexp.MustCompile(`^\s*([A-Za-z]+)`)
	asAlias        = regexp.MustCompile(`(?is)^(.*?)\s+AS\s+(.+)$`)
)

func leadingKeywordOf(statement string) string {
	match := leadingKeyword.FindStringSubmatch(statement)
	if match == nil {
		return ""
	}
	return strings.ToUpper(match[1])
}

func countSelects(statement string) int {
	return len(selectKeyword.FindAllStringIndex(statement, -1))
}

func hasFrom(statement string) bool {
	return fromKeyword.MatchString(statement)
}

// selectList returns the text between the leading SELECT and the first FROM,
// or the terminating semicolon when there is no FROM.
func selectList(statement string) string {
	loc := selectKeyword.FindStringIndex(statement)
	if loc == nil {
		return ""
	}
	rest := statement[loc[1]:]
	if from := fromKeyword.FindStringIndex(rest); from != nil {
		return strings.TrimSpace(rest[:from[0]])
	}
	if semi := strings.Index(rest, ";"); semi >= 0 {
		rest = rest[:semi]
	}
	return strings.TrimSpace(rest)
}

func splitColumns(list string) []string {
	parts := strings.Split(list, ",")
	columns := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		columns = append(columns, part)
	}
	return columns
}

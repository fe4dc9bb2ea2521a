package nl2sql

import (
	"fmt"
	"strings"
)

var questionCues = []string{"show", "list", "get", "find", "what", "how"}

// NormalizeQuestion trims the question and prefixes "show " when it carries
// none of the retrieval cue words.
func NormalizeQuestion(question string) string {
	question = strings.TrimSpace(question)
	lowered := strings.ToLower(question)
	for _, cue := range questionCues {
		if strings.Contains(lowered, cue) {
			return question
		}
	}
	return "show " + question
}

const promptTemplate = `<s>[INST] You are a SQL expert assistant. Your task is to convert natural language questions into valid SQL queries.

SYSTEM RULES:
1. ALWAYS generate complete, valid SQL queries
2. NEVER output partial or incomplete queries
3. ALWAYS include a FROM clause in SELECT queries
4. ALWAYS specify columns to select (use * only when appropriate)
5. NEVER include markdown formatting or code blocks
6. ALWAYS end queries with a semicolon
7. ALWAYS use table aliases for better readability
8. ALWAYS include proper JOINs when querying multiple tables

DATABASE SCHEMA:
%s

USER QUESTION: %s

Generate a valid SQL query that answers this question. The query must be complete and executable.
Output ONLY the SQL query without any explanations or formatting.
[/INST]</s>`

// ComposePrompt renders the instruction prompt for a schema description and a
// raw question. The question is normalized first.
func ComposePrompt(schemaDescription, question string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(schemaDescription), NormalizeQuestion(question))
}

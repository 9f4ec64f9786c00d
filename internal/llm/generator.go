package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoSQL is returned when the model's reply contains no SQL statement.
var ErrNoSQL = errors.New("model response contained no SQL statement")

// GenerationRequest carries everything the generation prompt is built from.
type GenerationRequest struct {
	Question string
	// Schema is the rendered policy document for the namespace.
	Schema string
	// Hint is advisory context from the session's previous query.
	Hint string
	// Feedback and PreviousSQL are set on retries.
	Feedback    string
	PreviousSQL string
}

// SQLGenerator turns questions into SQL with a completion client.
type SQLGenerator struct {
	client Client
}

// NewSQLGenerator creates a generator over client.
func NewSQLGenerator(client Client) *SQLGenerator {
	return &SQLGenerator{client: client}
}

// Generate returns one candidate statement. Transport failures are returned
// wrapped; a reply without SQL yields ErrNoSQL.
func (g *SQLGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	text, err := g.client.Complete(ctx, BuildGenerationPrompt(req))
	if err != nil {
		return "", err
	}

	sql := ExtractSQL(text)
	if sql == "" {
		return "", ErrNoSQL
	}
	return sql, nil
}

// BuildGenerationPrompt renders the generation prompt.
func BuildGenerationPrompt(req GenerationRequest) string {
	var prompt strings.Builder

	prompt.WriteString("You translate questions into a single read-only PostgreSQL query.\n\n")

	if req.Schema != "" {
		prompt.WriteString(req.Schema)
		prompt.WriteString("\n\n")
	}

	if req.Hint != "" {
		prompt.WriteString(req.Hint)
		prompt.WriteString("\nUse this context only if the new question refers to the same records.\n\n")
	}

	if req.Feedback != "" {
		prompt.WriteString("Your previous attempt was rejected.\n")
		if req.PreviousSQL != "" {
			prompt.WriteString(fmt.Sprintf("Previous SQL:\n%s\n", req.PreviousSQL))
		}
		prompt.WriteString(fmt.Sprintf("Correction required: %s\n\n", req.Feedback))
	}

	prompt.WriteString(fmt.Sprintf("Question: %s\n\n", req.Question))
	prompt.WriteString(`Requirements:
1. Output one SELECT statement (a WITH ... SELECT is allowed) inside a single sql code block.
2. Use only the tables and columns listed above. Never use a FORBIDDEN column.
3. Do not modify data, do not use comments, and do not add a trailing semicolon.
`)

	return prompt.String()
}

var (
	sqlFence     = regexp.MustCompile("(?is)```(?:sql|postgresql|postgres)?\\s*\\n?(.*?)```")
	sqlStatement = regexp.MustCompile(`(?ims)^[ \t]*(?:select|with)\b.*`)
	sqlLabel     = regexp.MustCompile(`(?i)^\s*sql\s*:\s*`)
)

// ExtractSQL pulls the statement out of a model reply: the first fenced code
// block, otherwise the paragraph starting at the first line that opens with
// SELECT or WITH.
func ExtractSQL(text string) string {
	if m := sqlFence.FindStringSubmatch(text); m != nil {
		if sql := strings.TrimSpace(sqlLabel.ReplaceAllString(m[1], "")); sql != "" {
			return sql
		}
	}

	loc := sqlStatement.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	sql := text[loc[0]:]
	if i := strings.Index(sql, "\n\n"); i >= 0 {
		sql = sql[:i]
	}
	return strings.TrimSpace(sql)
}

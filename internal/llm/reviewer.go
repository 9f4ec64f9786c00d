package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ReviewRequest is one candidate statement to check against the question.
type ReviewRequest struct {
	Question string
	SQL      string
	Schema   string
}

// Verdict is the reviewer's decision. Feedback is set when not approved.
type Verdict struct {
	Approved bool
	Feedback string
}

// reviewResponse accepts both key spellings the model tends to use.
type reviewResponse struct {
	Status           string   `json:"status"`
	Errors           []string `json:"errors"`
	Issues           []string `json:"issues"`
	ImprovementSteps []string `json:"improvement_steps"`
	Suggestions      []string `json:"suggestions"`
}

// Reviewer asks the model whether a statement answers the question within the schema rules.
type Reviewer struct {
	client Client
}

// NewReviewer creates a reviewer over client.
func NewReviewer(client Client) *Reviewer {
	return &Reviewer{client: client}
}

// Review returns the model's verdict. A reply that cannot be parsed approves
// the statement; transport errors are returned to the caller.
func (r *Reviewer) Review(ctx context.Context, req ReviewRequest) (Verdict, error) {
	text, err := r.client.Complete(ctx, BuildReviewPrompt(req))
	if err != nil {
		return Verdict{}, err
	}
	return ParseVerdict(text), nil
}

// BuildReviewPrompt renders the review prompt.
func BuildReviewPrompt(req ReviewRequest) string {
	var prompt strings.Builder

	prompt.WriteString("You review SQL written for a question. Check that:\n")
	prompt.WriteString("- the query answers the question that was asked (filters, grouping, counts);\n")
	prompt.WriteString("- no FORBIDDEN column is used and every table and column exists in the schema;\n")
	prompt.WriteString("- date conditions match the period in the question and follow the schema rules.\n\n")

	if req.Schema != "" {
		prompt.WriteString(req.Schema)
		prompt.WriteString("\n\n")
	}

	prompt.WriteString(fmt.Sprintf("Question: %s\n\nSQL:\n%s\n\n", req.Question, req.SQL))
	prompt.WriteString(`Reply with JSON only:
{"status": "APPROVED" or "NEEDS_FIX", "errors": ["..."], "improvement_steps": ["..."]}
`)
	return prompt.String()
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseVerdict reads the reviewer JSON out of a model reply.
func ParseVerdict(text string) Verdict {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return Verdict{Approved: true}
	}

	var resp reviewResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Verdict{Approved: true}
	}

	status := strings.ToUpper(strings.TrimSpace(resp.Status))
	if status == "" || status == "APPROVED" || status == "OK" {
		return Verdict{Approved: true}
	}

	problems := append(resp.Errors, resp.Issues...)
	steps := append(resp.ImprovementSteps, resp.Suggestions...)

	var feedback []string
	if len(problems) > 0 {
		feedback = append(feedback, "Errors: "+strings.Join(problems, "; "))
	}
	if len(steps) > 0 {
		feedback = append(feedback, "Fix: "+strings.Join(steps, "; "))
	}
	if len(feedback) == 0 {
		feedback = append(feedback, "The reviewer rejected the query without details; re-check the question and schema rules.")
	}

	return Verdict{Approved: false, Feedback: strings.Join(feedback, " ")}
}

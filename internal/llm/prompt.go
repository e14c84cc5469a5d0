package llm

import (
	"fmt"
	"strings"

	"github.com/kamilpajak/failtriage/pkg/models"
)

const (
	maxPromptError = 2000
	maxPromptStack = 4000
)

const systemPrompt = `You are an expert end-to-end test failure analyst. Your task is to diagnose a single failed browser test and provide an actionable root cause.

When analyzing failures, consider:
1. The error message and stack trace
2. Common causes: timing issues, unstable selectors, network or backend problems, wrong assertions
3. Whether the failure looks flaky or environmental

Respond with exactly three lines and nothing else:
Root cause: <one sentence explaining why the test failed>
Category: <one of timeout, selector, network, assertion, flake, infra, unknown>
Suggested fix: <one specific actionable fix>`

// BuildPrompt renders the user prompt for one failure.
func BuildPrompt(f models.FailureRecord) string {
	var sb strings.Builder

	sb.WriteString("## Failed Test\n")
	sb.WriteString(fmt.Sprintf("**Name:** %s\n", f.TestName))
	if !f.Timestamp.IsZero() {
		sb.WriteString(fmt.Sprintf("**Failed at:** %s\n", f.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")))
	}

	sb.WriteString(fmt.Sprintf("\n**Error:**\n```\n%s\n```\n", truncate(f.ErrorMessage, maxPromptError)))

	if f.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("\n**Stack trace:**\n```\n%s\n```\n", truncate(f.StackTrace, maxPromptStack)))
	}

	sb.WriteString("\nAnswer with the three lines described above.")
	return sb.String()
}

// BuildMessages returns the system and user messages for one failure.
func BuildMessages(f models.FailureRecord) []Message {
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildPrompt(f)},
	}
}

// truncate cuts s to at most n runes, appending "..." when it had to cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

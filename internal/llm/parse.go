package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// ParsedConfidence is assigned to every successfully parsed remote answer.
const ParsedConfidence = 0.9

var errEmptyAnswer = errors.New("empty answer")

// labels that a model may put in front of each line.
var answerLabels = []string{"root cause", "category", "suggested fix", "fix"}

// ParseAnswer extracts root cause, category and fix from the first three
// non-empty lines of content.
func ParseAnswer(content string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyAnswer
	}

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = cleanLine(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}
	if len(lines) < 3 {
		return nil, fmt.Errorf("expected 3 lines, got %d", len(lines))
	}

	return &models.AnalysisResult{
		RootCause:    lines[0],
		Category:     models.ParseCategory(lines[1]),
		SuggestedFix: lines[2],
		Confidence:   ParsedConfidence,
	}, nil
}

func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*•# ")
	line = stripOrdinal(line)
	line = strings.Trim(line, "* ")

	lower := strings.ToLower(line)
	for _, label := range answerLabels {
		if strings.HasPrefix(lower, label) {
			rest := strings.TrimLeft(line[len(label):], "* ")
			if strings.HasPrefix(rest, ":") {
				line = strings.TrimSpace(strings.TrimLeft(rest[1:], "* "))
				break
			}
		}
	}
	return line
}

// stripOrdinal removes a "1." or "2)" list marker.
func stripOrdinal(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) || (line[i] != '.' && line[i] != ')') {
		return line
	}
	return strings.TrimSpace(line[i+1:])
}

package analyzer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kamilpajak/failtriage/pkg/models"
)

// Input limits, in characters.
const (
	MaxErrorMessageLen = 10_000
	MaxStackTraceLen   = 50_000
)

// CSI sequences (colors, cursor moves) and OSC sequences (hyperlinks, titles).
var ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

// Sanitize strips terminal escapes and control characters other than
// newline, carriage return and tab, and replaces invalid UTF-8.
func Sanitize(f models.FailureRecord) models.FailureRecord {
	f.TestName = sanitizeText(f.TestName)
	f.ErrorMessage = sanitizeText(f.ErrorMessage)
	f.StackTrace = sanitizeText(f.StackTrace)
	return f
}

func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	s = ansiPattern.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Validate checks a sanitized record.
func Validate(f models.FailureRecord) error {
	if strings.TrimSpace(f.TestName) == "" {
		return &InvalidInputError{Field: "test_name", Reason: "is empty"}
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		return &InvalidInputError{Field: "error_message", Reason: "is empty"}
	}
	if n := utf8.RuneCountInString(f.ErrorMessage); n > MaxErrorMessageLen {
		return &InvalidInputError{
			Field:  "error_message",
			Reason: fmt.Sprintf("has %d characters, limit is %d", n, MaxErrorMessageLen),
		}
	}
	if n := utf8.RuneCountInString(f.StackTrace); n > MaxStackTraceLen {
		return &InvalidInputError{
			Field:  "stack_trace",
			Reason: fmt.Sprintf("has %d characters, limit is %d", n, MaxStackTraceLen),
		}
	}
	return nil
}

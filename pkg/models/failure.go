package models

import "time"

// FailureRecord is a single failed test case handed over by the result parser.
type FailureRecord struct {
	TestName     string    `json:"test_name"`
	ErrorMessage string    `json:"error_message"`
	StackTrace   string    `json:"stack_trace,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

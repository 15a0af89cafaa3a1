// Package remote provides unit tests for error classification.
package remote

import (
	"fmt"
	"testing"
)

// timeoutError mimics a net.Error timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// TestClassify tests the retryable/terminal/auth bucketing.
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassTransient},
		{"plain error", fmt.Errorf("boom"), ClassTransient},
		{"network timeout", timeoutError{}, ClassTransient},
		{"wrapped timeout", fmt.Errorf("push: %w", timeoutError{}), ClassTransient},
		{"server error", &StatusError{StatusCode: 503}, ClassTransient},
		{"bad request", &StatusError{StatusCode: 400}, ClassTerminal},
		{"validation rejection", &StatusError{StatusCode: 422}, ClassTerminal},
		{"unauthorized status", &StatusError{StatusCode: 401}, ClassAuth},
		{"forbidden status", &StatusError{StatusCode: 403}, ClassAuth},
		{"auth error", &AuthError{Reason: "token expired"}, ClassAuth},
		{"malformed payload", &PayloadError{EntityID: "x", Err: fmt.Errorf("bad json")}, ClassTerminal},
		{"wrapped status", fmt.Errorf("upsert: %w", &StatusError{StatusCode: 409}), ClassTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

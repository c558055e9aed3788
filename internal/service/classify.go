package service

import (
	"errors"
	"strings"
)

// DefaultFatalSignatures are substrings of provider errors that mean the
// underlying session died. This is a heuristic list, not an exhaustive one;
// deployments extend it through FATAL_ERROR_SIGNATURES.
var DefaultFatalSignatures = []string{
	"session closed",
	"evaluation failed",
	"target closed",
	"execution context was destroyed",
	"protocol error",
	"websocket not connected",
	"websocket disconnected",
	"not logged in",
	"connection closed",
}

// ErrorClassifier decides whether a provider error means session death.
type ErrorClassifier struct {
	signatures []string
}

func NewErrorClassifier(signatures []string) *ErrorClassifier {
	if len(signatures) == 0 {
		signatures = DefaultFatalSignatures
	}
	lowered := make([]string, 0, len(signatures))
	for _, s := range signatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowered = append(lowered, s)
		}
	}
	return &ErrorClassifier{signatures: lowered}
}

// IsFatal reports whether err matches ErrSessionClosed or a known signature.
func (c *ErrorClassifier) IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range c.signatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func (c *ErrorClassifier) Signatures() []string {
	out := make([]string, len(c.signatures))
	copy(out, c.signatures)
	return out
}

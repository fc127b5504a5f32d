// Package errors decides what happens to records that fail to import.
package errors

import (
	"fmt"
	"strings"
	"sync"

	lferrors "github.com/logflow/jsonimport/pkg/errors"
)

// Policy defines error handling behavior.
type Policy uint8

const (
	PolicyStrict     Policy = iota // Fail on first error
	PolicySkip                     // Skip bad records
	PolicyQuarantine               // Skip bad records and keep them for inspection
)

func (p Policy) String() string {
	names := []string{"strict", "skip", "quarantine"}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// ParsePolicy parses a policy name. The empty string means strict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "strict":
		return PolicyStrict, nil
	case "skip":
		return PolicySkip, nil
	case "quarantine":
		return PolicyQuarantine, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown error policy %q (want strict, skip or quarantine)", s)
	}
}

// RecordError describes a record that failed to parse or assemble.
type RecordError struct {
	Input  string
	Offset int
	Line   int
	Code   lferrors.Code
	Err    error
}

func (e *RecordError) String() string {
	return fmt.Sprintf("%s line %d: %v", e.Input, e.Line, e.Err)
}

// Handler applies a Policy to record errors. It is shared by all importers
// of a run, so max-errors counts across inputs.
type Handler struct {
	mu sync.Mutex

	policy     Policy
	maxErrors  int
	errors     []RecordError
	quarantine Quarantine
	onError    func(RecordError)
}

// NewHandler creates a new error handler. maxErrors <= 0 means unlimited.
func NewHandler(policy Policy, maxErrors int) *Handler {
	return &Handler{
		policy:    policy,
		maxErrors: maxErrors,
	}
}

// Policy returns the configured policy.
func (h *Handler) Policy() Policy {
	return h.policy
}

// Handle records err and returns a non-nil error when the run must stop.
// Errors that are not record-level are always returned unchanged.
func (h *Handler) Handle(err RecordError) error {
	if !lferrors.IsRecordError(err.Err) {
		return err.Err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.errors = append(h.errors, err)

	if h.onError != nil {
		h.onError(err)
	}

	switch h.policy {
	case PolicyStrict:
		return err.Err

	case PolicySkip, PolicyQuarantine:
		if h.policy == PolicyQuarantine && h.quarantine != nil {
			h.quarantine.Add(err)
		}
		if h.maxErrors > 0 && len(h.errors) >= h.maxErrors {
			return fmt.Errorf("max errors (%d) exceeded: %w", h.maxErrors, err.Err)
		}
		return nil

	default:
		return err.Err
	}
}

// Errors returns all collected errors.
func (h *Handler) Errors() []RecordError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RecordError{}, h.errors...)
}

// ErrorCount returns the number of errors.
func (h *Handler) ErrorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors)
}

// SetQuarantine sets the quarantine destination.
func (h *Handler) SetQuarantine(q Quarantine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quarantine = q
}

// OnError sets a callback for errors.
func (h *Handler) OnError(fn func(RecordError)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

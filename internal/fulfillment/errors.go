package fulfillment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// A message that fails with one of these is dead-lettered by the consumer.
// Collaborator failures never surface here; they become Failed outcomes.
var (
	// ErrDecode marks a payload that can never be processed.
	ErrDecode = errors.New("decode sale message")
	// ErrUnhandled marks an unexpected failure (a panic) during orchestration.
	ErrUnhandled = errors.New("unhandled orchestration failure")
	// ErrReport marks an outcome that could not be delivered to the record store.
	ErrReport = errors.New("report outcome")
)

const HeaderDLQOutcome = "dlq.outcome"

// ReportError carries the undelivered outcome so it can be replayed from
// the dead-letter topic without re-running the orchestration.
type ReportError struct {
	Outcome Outcome
	Err     error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("%v for sale %s: %v", ErrReport, e.Outcome.SaleID, e.Err)
}

func (e *ReportError) Unwrap() []error { return []error{ErrReport, e.Err} }

func (e *ReportError) DeadLetterHeaders() map[string]string {
	b, err := json.Marshal(e.Outcome.update())
	if err != nil {
		return nil
	}
	return map[string]string{HeaderDLQOutcome: string(b)}
}

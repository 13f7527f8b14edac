package sales

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type Status string

const (
	StatusCreated   Status = "Created"
	StatusConfirmed Status = "Confirmed"
	StatusFailed    Status = "Failed"
)

// Terminal states have no outgoing edges; a finished sale is never reopened.
var validNext = map[Status]map[Status]bool{
	StatusCreated:   {StatusConfirmed: true, StatusFailed: true},
	StatusConfirmed: {},
	StatusFailed:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// ParseStatus accepts the canonical names case-insensitively.
func ParseStatus(v string) (Status, error) {
	for s := range validNext {
		if strings.EqualFold(string(s), v) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown sale status %q", v)
}

type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

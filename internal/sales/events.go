package sales

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventSaleCreated = "SaleCreated"
	EventVersion     = "1"

	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// EncodeSale serializes the full aggregate as published on the sales topic.
func EncodeSale(s *Sale) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode sale %s: %w", s.ID, err)
	}
	return b, nil
}

// DecodeSale parses a sales topic payload. A payload without an id or items
// cannot be fulfilled and is rejected like malformed JSON.
func DecodeSale(b []byte) (*Sale, error) {
	var s Sale
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode sale: %w", err)
	}
	if s.ID == "" {
		return nil, errors.New("decode sale: missing id")
	}
	if len(s.Items) == 0 {
		return nil, fmt.Errorf("decode sale %s: no items", s.ID)
	}
	if s.Status == "" {
		s.Status = StatusCreated
	}
	if !s.Status.Valid() {
		return nil, fmt.Errorf("decode sale %s: unknown status %q", s.ID, s.Status)
	}
	return &s, nil
}

// EventHeaders are the message headers attached to every SaleCreated message.
func EventHeaders() map[string]string {
	return map[string]string{
		HeaderEventType:    EventSaleCreated,
		HeaderEventVersion: EventVersion,
	}
}

// StatusUpdate is the body of the record store's status update call.
type StatusUpdate struct {
	ID      string       `json:"id"`
	Status  Status       `json:"status"`
	History HistoryEntry `json:"history"`
}

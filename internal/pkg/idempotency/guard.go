// Package idempotency remembers which webhook events were already handled so
// repeated deliveries are acknowledged without side effects.
package idempotency

import (
	"context"
	"errors"
	"strings"
)

// Guard tracks processed event ids.
//
// Claim is the atomic check-and-mark: for a given id it returns true to
// exactly one caller for as long as the record lives.
type Guard interface {
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	Claim(ctx context.Context, eventID string) (bool, error)
}

// ErrInvalidEventID is returned for a blank event id.
var ErrInvalidEventID = errors.New("event id is required")

func normalizeID(eventID string) (string, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return "", ErrInvalidEventID
	}
	return id, nil
}

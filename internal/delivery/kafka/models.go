package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/offer-feed/internal/domain"
)

var errInvalidPayload = errors.New("invalid change payload")

type ChangeEventPayload struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Kind          string    `json:"kind"`
	Op            string    `json:"op"`
	Category      string    `json:"category,omitempty"`
	Identifier    string    `json:"identifier"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newPayload(evt domain.ChangeEvent) ChangeEventPayload {
	return ChangeEventPayload{
		SchemaVersion: SchemaVersion,
		ID:            evt.ID,
		UserID:        evt.UserID,
		Kind:          string(evt.Kind),
		Op:            string(evt.Op),
		Category:      string(evt.Category),
		Identifier:    evt.Identifier,
		OccurredAt:    evt.OccurredAt,
	}
}

func encodeChange(evt domain.ChangeEvent) ([]byte, error) {
	return json.Marshal(newPayload(evt))
}

// decodeChange parses and validates a record value.
func decodeChange(value []byte) (domain.ChangeEvent, error) {
	var p ChangeEventPayload
	if err := json.Unmarshal(value, &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if p.SchemaVersion != SchemaVersion {
		return domain.ChangeEvent{}, fmt.Errorf("%w: unsupported schema version %d", errInvalidPayload, p.SchemaVersion)
	}
	if p.UserID == "" || p.Identifier == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: missing user or identifier", errInvalidPayload)
	}

	evt := domain.ChangeEvent{
		ID:         p.ID,
		UserID:     p.UserID,
		Kind:       domain.ChangeKind(p.Kind),
		Op:         domain.ChangeOp(p.Op),
		Identifier: p.Identifier,
		OccurredAt: p.OccurredAt,
	}

	switch evt.Kind {
	case domain.KindPreference:
		cat, err := domain.ParseCategory(p.Category)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("%w: %v", errInvalidPayload, err)
		}
		evt.Category = cat
	case domain.KindSaved:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown kind %q", errInvalidPayload, p.Kind)
	}

	if evt.Op != domain.ChangeInsert && evt.Op != domain.ChangeDelete {
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown op %q", errInvalidPayload, p.Op)
	}
	return evt, nil
}

// Package randid generates random identifiers for resources created against
// the remote services: document IDs when the store's UUID service is
// degraded, and short suffixes for generated resource names.
package randid

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is a random, globally unique identifier.
type ID struct {
	value uuid.UUID
}

// New generates a new random ID (UUID v4).
func New() ID {
	return ID{value: uuid.New()}
}

// Parse parses an ID from its string form, with or without hyphens.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid id format: %w", err)
	}
	return ID{value: u}, nil
}

// String returns the canonical lowercase hyphenated form.
func (id ID) String() string {
	return id.value.String()
}

// Compact returns the identifier without hyphens, the form the document
// store uses for its own minted IDs.
func (id ID) Compact() string {
	return strings.ReplaceAll(id.value.String(), "-", "")
}

// IsZero returns true for the zero ID.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Suffix returns an n-character random suffix for generated resource names.
// n is capped at the length of a compact identifier.
func Suffix(n int) string {
	compact := New().Compact()
	if n <= 0 || n > len(compact) {
		return compact
	}
	return compact[:n]
}

// MarshalJSON implements json.Marshaler; IDs serialize as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

package ledger

import (
	"encoding/base64"
	"fmt"
	"strings"

	"sarthi/internal/domain"
)

// Cursor is the decoded form of a pagination token: the keyset position
// of the last entry the caller has seen.
type Cursor struct {
	CreatedAt string
	ID        string
}

// EncodeCursor produces the opaque token for the entry.
func EncodeCursor(e domain.ActionEntry) string {
	return base64.RawURLEncoding.EncodeToString([]byte(e.CreatedAt + "|" + e.ID))
}

// DecodeCursor parses a token. Malformed input is a caller error, never
// a panic.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor")
	}
	createdAt, id, ok := strings.Cut(string(raw), "|")
	if !ok || createdAt == "" || id == "" {
		return Cursor{}, fmt.Errorf("invalid cursor")
	}
	return Cursor{CreatedAt: createdAt, ID: id}, nil
}

// Package ordernum generates globally unique, human-readable order numbers.
//
// A timestamp plus a small random suffix is not collision-safe under
// concurrent generation, so the random component here is 80 bits from
// crypto/rand. The date prefix is kept purely for operator readability.
package ordernum

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Prefix identifies booking order numbers.
const Prefix = "ON"

// randomBytes is the entropy carried by each order number (80 bits).
const randomBytes = 10

// New returns an order number of the form ON20260830<20 hex chars>.
func New() (string, error) {
	return NewAt(time.Now())
}

// NewAt returns an order number dated with the given time.
func NewAt(t time.Time) (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return Prefix + t.Format("20060102") + hex.EncodeToString(buf), nil
}

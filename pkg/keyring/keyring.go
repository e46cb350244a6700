// Package keyring holds the ordered list of provider credentials the
// gateway rotates through. Rotation position is owned by the caller,
// so the ring itself carries no mutable state.
package keyring

import "errors"

// ErrNoKeys is returned when the ring is constructed without credentials.
var ErrNoKeys = errors.New("no API keys configured")

// ErrExhausted signals that the requested index is past the last
// credential. Wrapping back to the first key would silently mask an
// exhausted rotation, so an out-of-range index is an error.
var ErrExhausted = errors.New("credential rotation exhausted")

// Ring is an immutable ordered credential list.
type Ring struct {
	keys []string
}

// New creates a Ring. At least one key is required.
func New(keys []string) (*Ring, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	copied := make([]string, len(keys))
	copy(copied, keys)
	return &Ring{keys: copied}, nil
}

// At returns the i-th credential in rotation order.
func (r *Ring) At(i int) (string, error) {
	if i < 0 || i >= len(r.keys) {
		return "", ErrExhausted
	}
	return r.keys[i], nil
}

// Count returns the number of configured credentials.
func (r *Ring) Count() int {
	return len(r.keys)
}

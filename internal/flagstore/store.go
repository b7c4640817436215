// Package flagstore persists the per-user transient flag that carries the
// current flanking bonus between an evaluation and the next attack roll.
//
// The flag is either present with a bonus ≥ 1 or absent; it is never stored
// as zero. Implementations are injected into the tracker so the core never
// touches ambient host state.
package flagstore

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failure to reach the backing store. Callers
// decide how to recover; the store itself never retries.
var ErrUnavailable = errors.New("store unavailable")

// FlagName is the name of the flanking bonus flag.
const FlagName = "targetFlankingBonus"

// namespace scopes flag keys to this module.
const namespace = "flanker"

// Key returns the store key of the flanking bonus flag for userID.
func Key(userID string) string {
	return namespace + "." + FlagName + "/" + userID
}

// Store is a key-value store for integer flags.
//
// All implementations must be safe for concurrent use. Overlapping writes
// resolve as last write wins.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent.
	Get(ctx context.Context, key string) (value int, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value int) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

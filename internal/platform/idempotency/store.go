// Package idempotency replays the first response of a keyed request so retried checkouts do not
// create duplicate orders.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a key stays bound to its first response.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle of a stored key.
type State string

const (
	StateInFlight State = "in_flight"
	StateDone     State = "done"
)

// Outcome tells the middleware what to do after Begin.
type Outcome int

const (
	// OutcomeProceed means the caller owns the key and must Complete or Abandon it.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means Entry holds a finished response.
	OutcomeReplay
	// OutcomeBusy means another request holds the key.
	OutcomeBusy
)

// Entry is the persisted state of one key.
type Entry struct {
	Key         string
	Fingerprint string
	State       State
	Status      int
	Header      http.Header
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is the handler result captured for replay.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists keys and their responses.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, Outcome, error)
	Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReused is returned when a key arrives with a different request than the one it is bound to.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// replayHeaders keeps the headers a replayed response needs.
func replayHeaders(header http.Header) http.Header {
	out := http.Header{}
	for _, name := range []string{"Content-Type", "Location", "X-Order-Id"} {
		if values := header.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

func newEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:         key,
		Fingerprint: fingerprint,
		State:       StateInFlight,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// resolve decides the outcome for an existing entry.
func resolve(existing Entry, fingerprint string) (Outcome, error) {
	if existing.Fingerprint != fingerprint {
		return 0, ErrKeyReused
	}
	if existing.State == StateDone {
		return OutcomeReplay, nil
	}
	return OutcomeBusy, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

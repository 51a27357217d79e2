package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ilakkiyam/api/internal/platform/auth"
	"github.com/ilakkiyam/api/internal/platform/httpx"
	"github.com/ilakkiyam/api/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader is set on responses served from the store.
	ReplayHeader = "Idempotent-Replayed"

	maxKeyLength = 255
)

type guardConfig struct {
	header  string
	ttl     time.Duration
	maxBody int64
	now     func() time.Time
}

// Option customises Guard.
type Option func(*guardConfig)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) Option {
	return func(cfg *guardConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL sets how long a key replays its response.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *guardConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMaxBody bounds how much of the body is buffered for fingerprinting.
func WithMaxBody(n int64) Option {
	return func(cfg *guardConfig) {
		if n > 0 {
			cfg.maxBody = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(cfg *guardConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// Guard replays the stored response when a request repeats a key. Requests without the header
// pass straight through. Transient outcomes (5xx, 429, 409) are not stored so the client can retry.
func Guard(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := guardConfig{header: DefaultHeader, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := strings.TrimSpace(r.Header.Get(cfg.header))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r, cfg.maxBody)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body is too large", http.StatusRequestEntityTooLarge))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}

			key := scope(r, raw)
			entry, outcome, err := store.Begin(ctx, key, fingerprint(r, body), cfg.now(), cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				httpx.WriteError(ctx, w, httpx.Internal(err))
				return
			}

			switch outcome {
			case OutcomeReplay:
				replay(w, entry)
				return
			case OutcomeBusy:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still being processed", http.StatusConflict))
				return
			}

			logger := requestctx.Logger(ctx)
			settled := false
			defer func() {
				// A panicking handler must not leave the key in progress until the TTL.
				if !settled {
					if err := store.Abandon(context.WithoutCancel(ctx), key); err != nil {
						logger.Warn("idempotency key release failed", zap.Error(err))
					}
				}
			}()

			rec := &recorder{header: http.Header{}}
			next.ServeHTTP(rec, r)
			settled = true

			if !storable(rec.status()) {
				if err := store.Abandon(ctx, key); err != nil {
					logger.Warn("idempotency key release failed", zap.Error(err))
				}
			} else if err := store.Complete(ctx, key, Response{Status: rec.status(), Header: rec.header, Body: rec.body.Bytes()}, cfg.now(), cfg.ttl); err != nil {
				logger.Warn("idempotency response not stored", zap.Error(err))
				_ = store.Abandon(ctx, key)
			}
			rec.flushTo(w)
		})
	}
}

// storable reports whether a response is final for its key. Rate limiting, conflicts and server
// errors say nothing about what a retry would return.
func storable(status int) bool {
	switch {
	case status >= http.StatusInternalServerError:
		return false
	case status == http.StatusTooManyRequests, status == http.StatusConflict:
		return false
	}
	return true
}

// scope binds the key to the caller so two customers cannot collide.
func scope(r *http.Request, key string) string {
	subject := "anonymous"
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		subject = identity.UID
	}
	return subject + "|" + r.Method + " " + r.URL.Path + "|" + key
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Header.Get("Content-Type"))
	_, _ = io.WriteString(h, "\n"+r.URL.RawQuery+"\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = http.MaxBytesReader(nil, r.Body, limit)
	}
	data, err := io.ReadAll(reader)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

// recorder buffers the handler response until it has been stored.
type recorder struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *recorder) flushTo(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status())
	_, _ = w.Write(r.body.Bytes())
}

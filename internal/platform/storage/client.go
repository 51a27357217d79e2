package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultDownloadTTL = 5 * time.Minute
	maxDownloadTTL     = 15 * time.Minute
)

var (
	errNoSigner      = errors.New("storage: signer is required")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errTTLTooLong    = errors.New("storage: expiry exceeds permitted maximum")
)

// URLSigner produces V4 signed GET URLs for private objects.
type URLSigner struct {
	signer Signer
	now    func() time.Time
}

// URLSignerOption customises a URLSigner.
type URLSignerOption func(*URLSigner)

// WithClock injects the clock used for expiry calculation.
func WithClock(clock func() time.Time) URLSignerOption {
	return func(s *URLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewURLSigner constructs a URLSigner around signer.
func NewURLSigner(signer Signer, opts ...URLSignerOption) (*URLSigner, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	s := &URLSigner{signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// DownloadRequest describes one signed download.
type DownloadRequest struct {
	Bucket string
	Object string
	TTL    time.Duration
	// Disposition sets response-content-disposition, e.g. `inline; filename="receipt.pdf"`.
	Disposition string
}

// SignedDownload is a signed URL and the instant it stops working.
type SignedDownload struct {
	URL       string
	ExpiresAt time.Time
}

// SignDownload signs a GET URL. TTL defaults to five minutes and is capped at fifteen.
func (s *URLSigner) SignDownload(ctx context.Context, req DownloadRequest) (SignedDownload, error) {
	if s == nil {
		return SignedDownload{}, errNoSigner
	}
	bucket := strings.TrimSpace(req.Bucket)
	if bucket == "" {
		return SignedDownload{}, errInvalidBucket
	}
	object := strings.TrimSpace(req.Object)
	if object == "" {
		return SignedDownload{}, errInvalidObject
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultDownloadTTL
	}
	if ttl > maxDownloadTTL {
		return SignedDownload{}, errTTLTooLong
	}

	expires := s.now().Add(ttl)
	opts := &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	}
	if d := strings.TrimSpace(req.Disposition); d != "" {
		opts.QueryParameters = url.Values{"response-content-disposition": {d}}
	}

	signed, err := gcs.SignedURL(bucket, object, opts)
	if err != nil {
		return SignedDownload{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedDownload{URL: signed, ExpiresAt: expires}, nil
}

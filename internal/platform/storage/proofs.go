package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	domain "github.com/ilakkiyam/api/internal/domain"
)

// ErrProofRejected marks uploads refused for their type, size or name.
var ErrProofRejected = errors.New("storage: payment proof rejected")

// AllowedProofTypes lists the content types accepted as payment proof.
var AllowedProofTypes = []string{"image/jpeg", "image/png", "image/webp", "application/pdf"}

// objectWriter is the bucket surface ProofStore needs. gcsObjects adapts *gcs.Client.
type objectWriter interface {
	Write(ctx context.Context, bucket, object, contentType string, metadata map[string]string, body io.Reader) error
	Delete(ctx context.Context, bucket, object string) error
}

type gcsObjects struct {
	client *gcs.Client
}

func (g gcsObjects) Write(ctx context.Context, bucket, object, contentType string, metadata map[string]string, body io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := io.Copy(w, body); err != nil {
		// Cancelling before Close abandons the upload instead of committing a partial object.
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (g gcsObjects) Delete(ctx context.Context, bucket, object string) error {
	err := g.client.Bucket(bucket).Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

// ProofStoreConfig configures ProofStore.
type ProofStoreConfig struct {
	Bucket   string
	MaxBytes int64
	URLTTL   time.Duration
	Signer   *URLSigner
	NewID    func() string
}

// ProofStore keeps payment proofs in a private Cloud Storage bucket and hands out short-lived
// signed URLs for staff review.
type ProofStore struct {
	objects  objectWriter
	bucket   string
	maxBytes int64
	ttl      time.Duration
	signer   *URLSigner
	newID    func() string
}

// NewProofStore builds a ProofStore on a Cloud Storage client.
func NewProofStore(client *gcs.Client, cfg ProofStoreConfig) (*ProofStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return newProofStore(gcsObjects{client: client}, cfg)
}

func newProofStore(objects objectWriter, cfg ProofStoreConfig) (*ProofStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errInvalidBucket
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return ulid.Make().String() }
	}
	return &ProofStore{
		objects:  objects,
		bucket:   strings.TrimSpace(cfg.Bucket),
		maxBytes: cfg.MaxBytes,
		ttl:      cfg.URLTTL,
		signer:   cfg.Signer,
		newID:    cfg.NewID,
	}, nil
}

// PutProof stores the upload and returns its object path.
func (s *ProofStore) PutProof(ctx context.Context, upload domain.ProofUpload) (string, error) {
	if upload.Body == nil {
		return "", fmt.Errorf("%w: empty body", ErrProofRejected)
	}
	contentType, err := proofContentType(upload.ContentType)
	if err != nil {
		return "", err
	}
	if s.maxBytes > 0 && upload.Size > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrProofRejected, upload.Size, s.maxBytes)
	}
	object, err := ProofObjectPath(upload.OrderID, s.newID(), upload.FileName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProofRejected, err)
	}

	body := upload.Body
	if s.maxBytes > 0 {
		body = &limitedReader{r: io.LimitReader(upload.Body, s.maxBytes+1), max: s.maxBytes}
	}
	metadata := map[string]string{"orderId": upload.OrderID}
	if err := s.objects.Write(ctx, s.bucket, object, contentType, metadata, body); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return "", fmt.Errorf("%w: exceeds limit of %d bytes", ErrProofRejected, s.maxBytes)
		}
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}
	return object, nil
}

// DeleteProof removes a stored proof. Missing objects are not an error.
func (s *ProofStore) DeleteProof(ctx context.Context, objectPath string) error {
	if !IsProofPath(objectPath) {
		return fmt.Errorf("storage: %q is not a payment proof path", objectPath)
	}
	return s.objects.Delete(ctx, s.bucket, objectPath)
}

// SignedProofURL returns a signed inline download link for the proof.
func (s *ProofStore) SignedProofURL(ctx context.Context, objectPath string) (domain.SignedURL, error) {
	if s.signer == nil {
		return domain.SignedURL{}, errNoSigner
	}
	if !IsProofPath(objectPath) {
		return domain.SignedURL{}, fmt.Errorf("storage: %q is not a payment proof path", objectPath)
	}
	name := objectPath[strings.LastIndex(objectPath, "/")+1:]
	signed, err := s.signer.SignDownload(ctx, DownloadRequest{
		Bucket:      s.bucket,
		Object:      objectPath,
		TTL:         s.ttl,
		Disposition: mime.FormatMediaType("inline", map[string]string{"filename": name}),
	})
	if err != nil {
		return domain.SignedURL{}, err
	}
	return domain.SignedURL{URL: signed.URL, ExpiresAt: signed.ExpiresAt}, nil
}

func proofContentType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: content type %q is invalid", ErrProofRejected, raw)
	}
	for _, allowed := range AllowedProofTypes {
		if mediaType == allowed {
			return mediaType, nil
		}
	}
	return "", fmt.Errorf("%w: content type %s is not accepted", ErrProofRejected, mediaType)
}

var errBodyTooLarge = errors.New("storage: body too large")

// limitedReader fails the copy once more than max bytes were read, whatever Size claimed.
type limitedReader struct {
	r    io.Reader
	max  int64
	read int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.max {
		return n, errBodyTooLarge
	}
	return n, err
}

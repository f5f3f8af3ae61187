// Package blob transfers media received from users into a bucket and returns
// an opaque id that flows embed in records.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

var (
	// ErrDownloadFailed is returned when remote media cannot be fetched.
	ErrDownloadFailed = errors.New("download failed")
	// ErrStoreFailed is returned when the bucket write fails.
	ErrStoreFailed = errors.New("store failed")
	// ErrNotFound is returned by Open for unknown ids.
	ErrNotFound = errors.New("blob not found")
)

const (
	// DefaultPrefix is prepended to every object key.
	DefaultPrefix = "uploads/"
	// DefaultContentType is used when neither the source nor the attachment names one.
	DefaultContentType = "image/jpeg"
	// DefaultDownloadTimeout bounds a single remote fetch.
	DefaultDownloadTimeout = 30 * time.Second
	// DefaultMaxDownloadBytes caps media size (WhatsApp's own document limit).
	DefaultMaxDownloadBytes = 100 << 20
)

// Transfer is the blob adapter used by flow handlers.
type Transfer interface {
	// StoreFromURL downloads url and stores it.
	StoreFromURL(ctx context.Context, url string) (string, error)
	// StoreAttachment stores inline attachment data, or downloads its URL.
	StoreAttachment(ctx context.Context, att models.Attachment) (string, error)
}

// Opts configures a Store.
type Opts struct {
	Prefix      string
	BearerToken string
	HTTPClient  *http.Client
	MaxBytes    int64
}

// Option configures a Store.
type Option func(*Opts)

// WithPrefix sets the object key prefix.
func WithPrefix(prefix string) Option {
	return func(o *Opts) { o.Prefix = prefix }
}

// WithBearerToken authenticates media downloads (Meta Cloud API token).
func WithBearerToken(token string) Option {
	return func(o *Opts) { o.BearerToken = token }
}

// WithHTTPClient replaces the download client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithMaxDownloadBytes rejects downloads larger than n bytes.
func WithMaxDownloadBytes(n int64) Option {
	return func(o *Opts) { o.MaxBytes = n }
}

// Store writes media into a gocloud bucket (mem://, file://, s3://).
type Store struct {
	bucket *blob.Bucket
	prefix string
	token  string
	client *http.Client
	limit  int64
}

var _ Transfer = (*Store)(nil)

// NewStore opens bucketURL.
func NewStore(ctx context.Context, bucketURL string, opts ...Option) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucketURL, err)
	}
	return NewStoreFromBucket(bucket, opts...), nil
}

// NewStoreFromBucket wraps an already opened bucket.
func NewStoreFromBucket(bucket *blob.Bucket, opts ...Option) *Store {
	cfg := Opts{Prefix: DefaultPrefix, MaxBytes: DefaultMaxDownloadBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultDownloadTimeout}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxDownloadBytes
	}
	return &Store{bucket: bucket, prefix: cfg.Prefix, token: cfg.BearerToken, client: client, limit: cfg.MaxBytes}
}

func (s *Store) StoreFromURL(ctx context.Context, url string) (string, error) {
	data, contentType, err := s.fetch(ctx, url)
	if err != nil {
		slog.Error("Store.StoreFromURL: download failed", "url", url, "error", err)
		return "", err
	}
	return s.put(ctx, data, contentType)
}

func (s *Store) StoreAttachment(ctx context.Context, att models.Attachment) (string, error) {
	if len(att.Data) > 0 {
		return s.put(ctx, att.Data, att.MIMEType)
	}
	if att.URL == "" {
		return "", fmt.Errorf("%w: attachment has neither data nor url", ErrDownloadFailed)
	}
	data, contentType, err := s.fetch(ctx, att.URL)
	if err != nil {
		slog.Error("Store.StoreAttachment: download failed", "url", att.URL, "error", err)
		return "", err
	}
	if att.MIMEType != "" {
		contentType = att.MIMEType
	}
	return s.put(ctx, data, contentType)
}

// Open reads back a stored object.
func (s *Store) Open(ctx context.Context, id string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, id)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Close closes the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func (s *Store) put(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = DefaultContentType
	}
	key := s.prefix + "media_" + uuid.NewString() + extensionFor(contentType)

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	slog.Debug("Store.put: stored media", "key", key, "bytes", len(data), "contentType", contentType)
	return key, nil
}

// fetch downloads url. Meta's media endpoint answers with a JSON document
// whose "url" field points at the binary; that second hop is followed once.
func (s *Store) fetch(ctx context.Context, url string) ([]byte, string, error) {
	data, contentType, err := s.get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	if strings.HasPrefix(contentType, "application/json") {
		doc := gjson.ParseBytes(data)
		if next := doc.Get("url").String(); next != "" {
			data, contentType, err = s.get(ctx, next)
			if err != nil {
				return nil, "", err
			}
			if mt := doc.Get("mime_type").String(); mt != "" {
				contentType = mt
			}
		}
	}
	return data, contentType, nil
}

func (s *Store) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: %s returned status %d", ErrDownloadFailed, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if int64(len(data)) > s.limit {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrDownloadFailed, url, s.limit)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %s returned an empty body", ErrDownloadFailed, url)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func extensionFor(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(mt) {
	case "image/jpeg", "image/jpg":
		return ".jpeg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

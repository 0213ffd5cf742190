// ABOUTME: GCS client for uploading and downloading error store exports
// ABOUTME: Supports ADC authentication, emulator mode, and prefix path validation

package gcs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// DefaultPrefix is the object prefix for exports.
const DefaultPrefix = "devcapture/"

// Config holds GCS client configuration.
type Config struct {
	// Bucket is the GCS bucket name.
	Bucket string

	// Prefix is prepended to object names. Empty uses DefaultPrefix.
	Prefix string

	// CredentialsFile is the path to service account JSON (optional).
	// If empty, uses Application Default Credentials (ADC).
	CredentialsFile string

	// EmulatorHost is the GCS emulator host (e.g., "localhost:4443").
	// When set, the client uses the JSON API over HTTP instead of the Go SDK.
	// fake-gcs-server does not support the SDK's path-style URLs for reads.
	EmulatorHost string
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Prefix, "..") {
		return fmt.Errorf("prefix %q must not contain ..", c.Prefix)
	}
	return nil
}

// Object describes an uploaded or downloaded export.
type Object struct {
	// URI is the gs:// URI of the object.
	URI string

	// Name is the object name inside the bucket.
	Name string

	// Checksum is the SHA256 hash of the contents.
	Checksum string

	// Size is the content length in bytes.
	Size int64

	// Data holds the contents on download.
	Data []byte
}

// Client wraps the GCS storage client.
type Client struct {
	storageClient *storage.Client
	httpClient    *http.Client
	bucket        string
	prefix        string
	emulatorHost  string // Non-empty when using emulator mode
}

// NewClient creates a new GCS client.
// When STORAGE_EMULATOR_HOST is set or EmulatorHost is configured,
// the client talks to the emulator over HTTP.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	// Explicit config takes precedence over the env var.
	emulatorHost := cfg.EmulatorHost
	if emulatorHost == "" {
		emulatorHost = os.Getenv("STORAGE_EMULATOR_HOST")
	}

	if emulatorHost != "" {
		emulatorHost = strings.TrimPrefix(strings.TrimPrefix(emulatorHost, "http://"), "https://")
		return &Client{
			httpClient:   &http.Client{Timeout: 30 * time.Second},
			bucket:       cfg.Bucket,
			prefix:       prefix,
			emulatorHost: emulatorHost,
		}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Client{
		storageClient: client,
		bucket:        cfg.Bucket,
		prefix:        prefix,
	}, nil
}

// Close closes the GCS client.
func (c *Client) Close() error {
	if c.storageClient != nil {
		return c.storageClient.Close()
	}
	return nil
}

// IsEmulatorMode returns true if the client is configured for emulator mode.
func (c *Client) IsEmulatorMode() bool {
	return c.emulatorHost != ""
}

// Bucket returns the configured bucket.
func (c *Client) Bucket() string {
	return c.bucket
}

// ObjectName returns the full object name for name under the prefix.
func (c *Client) ObjectName(name string) string {
	if strings.HasPrefix(name, c.prefix) {
		return name
	}
	return c.prefix + strings.TrimPrefix(name, "/")
}

// ExportObjectName returns a timestamped export file name.
func ExportObjectName(at time.Time) string {
	return "errors-" + at.UTC().Format("20060102T150405Z") + ".json"
}

// Upload writes data as a JSON object named name under the prefix.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (*Object, error) {
	object := c.ObjectName(name)
	if !ValidateObjectPath(object, c.prefix) {
		return nil, fmt.Errorf("object %q escapes prefix %q", object, c.prefix)
	}

	var err error
	if c.emulatorHost != "" {
		err = c.uploadViaHTTP(ctx, object, data)
	} else {
		err = c.uploadViaSDK(ctx, object, data)
	}
	if err != nil {
		return nil, err
	}

	return &Object{
		URI:      fmt.Sprintf("gs://%s/%s", c.bucket, object),
		Name:     object,
		Checksum: Checksum(data),
		Size:     int64(len(data)),
	}, nil
}

func (c *Client) uploadViaHTTP(ctx context.Context, object string, data []byte) error {
	uploadURL := fmt.Sprintf("http://%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		c.emulatorHost, c.bucket, url.QueryEscape(object))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request to %s: %w", uploadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("uploading object %s/%s: HTTP %d", c.bucket, object, resp.StatusCode)
	}
	return nil
}

func (c *Client) uploadViaSDK(ctx context.Context, object string, data []byte) error {
	w := c.storageClient.Bucket(c.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing object %s/%s: %w", c.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing object %s/%s: %w", c.bucket, object, err)
	}
	return nil
}

// Download reads an object by name (under the prefix) or gs:// URI.
func (c *Client) Download(ctx context.Context, nameOrURI string) (*Object, error) {
	object := nameOrURI
	if strings.HasPrefix(nameOrURI, "gs://") {
		bucket, obj, err := ParseGCSURI(nameOrURI)
		if err != nil {
			return nil, fmt.Errorf("parsing URI: %w", err)
		}
		if bucket != c.bucket {
			return nil, fmt.Errorf("bucket mismatch: URI has %q, client configured for %q", bucket, c.bucket)
		}
		object = obj
	} else {
		object = c.ObjectName(object)
	}
	if !ValidateObjectPath(object, c.prefix) {
		return nil, fmt.Errorf("object %q is outside prefix %q", object, c.prefix)
	}

	var (
		data []byte
		err  error
	)
	if c.emulatorHost != "" {
		data, err = c.downloadViaHTTP(ctx, object)
	} else {
		data, err = c.downloadViaSDK(ctx, object)
	}
	if err != nil {
		return nil, err
	}

	return &Object{
		URI:      fmt.Sprintf("gs://%s/%s", c.bucket, object),
		Name:     object,
		Checksum: Checksum(data),
		Size:     int64(len(data)),
		Data:     data,
	}, nil
}

// downloadViaHTTP uses the JSON API URL that fake-gcs-server expects:
// http://{host}/storage/v1/b/{bucket}/o/{object}?alt=media
func (c *Client) downloadViaHTTP(ctx context.Context, object string) ([]byte, error) {
	downloadURL := fmt.Sprintf("http://%s/storage/v1/b/%s/o/%s?alt=media",
		c.emulatorHost, c.bucket, url.PathEscape(object))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request to %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading object %s/%s: HTTP %d", c.bucket, object, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("downloading object: %w", err)
	}
	return data, nil
}

func (c *Client) downloadViaSDK(ctx context.Context, object string) ([]byte, error) {
	reader, err := c.storageClient.Bucket(c.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object %s/%s: %w", c.bucket, object, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("downloading object: %w", err)
	}
	return data, nil
}

// ParseGCSURI parses a gs:// URI into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", errors.New("empty URI")
	}

	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: must start with gs://")
	}

	rest := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", errors.New("invalid GCS URI: missing bucket")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		object = parts[1]
	}

	return bucket, object, nil
}

// ValidateObjectPath reports whether object lives under prefix without
// traversal sequences.
func ValidateObjectPath(object, prefix string) bool {
	if object == "" || strings.HasSuffix(object, "/") {
		return false
	}
	if path.Clean(object) != object {
		return false
	}
	return strings.HasPrefix(object, prefix)
}

// Checksum returns the hex SHA256 of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// VerifyChecksum checks that data matches the expected SHA256 checksum.
func VerifyChecksum(data []byte, expected string) error {
	if actual := Checksum(data); actual != expected {
		return fmt.Errorf("checksum mismatch: got %s, expected %s", actual, expected)
	}
	return nil
}

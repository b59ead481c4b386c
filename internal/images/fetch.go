package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// FetcherConfig configures how upload_image arguments are resolved.
type FetcherConfig struct {
	// MaxBytes caps fetched payloads, matching the store's cap.
	MaxBytes int64
	// AllowPaths permits image_path reads from the server's filesystem.
	AllowPaths bool
	// Timeout bounds image_url downloads.
	Timeout time.Duration
}

// Fetcher resolves the three upload_image argument forms into raw bytes.
type Fetcher struct {
	config *FetcherConfig
	http   *http.Client
}

// NewFetcher creates a fetcher.
func NewFetcher(config *FetcherConfig) *Fetcher {
	if config == nil {
		config = &FetcherConfig{MaxBytes: 20 << 20, Timeout: 15 * time.Second}
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 20 << 20
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Fetcher{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// FromURL downloads image bytes from an HTTP(S) URL.
func (f *Fetcher) FromURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, "", fmt.Errorf("image_url must be http or https: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("image_url request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching image_url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching image_url: %s", resp.Status)
	}
	if resp.ContentLength > f.config.MaxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := readCapped(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, "", err
	}
	return data, sniffContentType(resp.Header.Get("Content-Type"), data), nil
}

// FromPath reads image bytes from a local file, when enabled.
func (f *Fetcher) FromPath(path string) ([]byte, string, error) {
	if !f.config.AllowPaths {
		return nil, "", fmt.Errorf("image_path is disabled on this server")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("image_path: %w", err)
	}
	if info.Size() > f.config.MaxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("image_path: %w", err)
	}
	return data, sniffContentType("", data), nil
}

// FromBase64 decodes inline image bytes, accepting raw base64 or a data URI.
func (f *Fetcher) FromBase64(encoded string) ([]byte, string, error) {
	declared := ""
	if strings.HasPrefix(encoded, "data:") {
		idx := strings.Index(encoded, ",")
		if idx < 0 {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		header := encoded[len("data:"):idx]
		declared = strings.TrimSuffix(header, ";base64")
		encoded = encoded[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("decoding image_b64: %w", err)
	}
	if int64(len(data)) > f.config.MaxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, sniffContentType(declared, data), nil
}

func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds cap of %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// sniffContentType prefers the declared type and falls back to detection.
func sniffContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

// Package dump retrieves provider pricing dumps over HTTP and exposes them as
// a streaming row iterator. Downloads are cached on disk with ETag
// revalidation so a retried run does not pull the same multi-gigabyte file
// twice.
package dump

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
)

// Client downloads and caches provider pricing dumps.
type Client struct {
	Logger   *zap.Logger
	CacheDir string

	httpClient *http.Client
}

// NewClient builds a dump client. The cache directory defaults to
// DUMP_CACHE_DIR and is created on first use.
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		Logger:   logger.Named("dump"),
		CacheDir: utils.Env("DUMP_CACHE_DIR", "/var/cache/pricefeed/dumps"),
		httpClient: &http.Client{
			Timeout: utils.EnvDuration("DUMP_HTTP_TIMEOUT", 10*time.Minute),
		},
	}
}

// DumpURL resolves the dump URL for a provider from
// PRICING_DUMP_URL_<PROVIDER> (provider upper-cased).
func DumpURL(provider string) string {
	key := "PRICING_DUMP_URL_" + strings.ToUpper(provider)
	return utils.Env(key, "")
}

// Fetch returns the path of a local, decompressed copy of the provider's
// current dump. When the upstream ETag matches the cached one the cached file
// is returned without a download.
func (c *Client) Fetch(ctx context.Context, provider string) (string, error) {
	url := DumpURL(provider)
	if url == "" {
		return "", fmt.Errorf("no dump url configured for provider %q", provider)
	}

	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	dataPath := filepath.Join(c.CacheDir, provider+".csv")
	etagPath := filepath.Join(c.CacheDir, provider+".etag")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build dump request: %w", err)
	}

	if etag := c.cachedETag(etagPath, dataPath); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch dump for %s: %w", provider, err)
	}
	defer utils.DrainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotModified:
		c.Logger.Info("Dump unchanged, using cached copy",
			zap.String("provider", provider),
			zap.String("path", dataPath))
		return dataPath, nil
	case http.StatusOK:
		// fall through to download
	default:
		return "", fmt.Errorf("fetch dump for %s: unexpected status %d", provider, resp.StatusCode)
	}

	if err := c.writeDump(resp, dataPath, url); err != nil {
		return "", err
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		if err := os.WriteFile(etagPath, []byte(etag), 0o644); err != nil {
			c.Logger.Warn("Failed to persist dump etag", zap.Error(err))
		}
	} else {
		_ = os.Remove(etagPath)
	}

	c.Logger.Info("Dump downloaded",
		zap.String("provider", provider),
		zap.String("path", dataPath))
	return dataPath, nil
}

// writeDump streams the response body to a temp file and renames it into
// place, decompressing gzip payloads. The rename keeps a concurrent reader of
// the previous cached copy intact.
func (c *Client) writeDump(resp *http.Response, dataPath, url string) error {
	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" || strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer func() { _ = gz.Close() }()
		body = gz
	}

	tmp, err := os.CreateTemp(c.CacheDir, "dump-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp dump file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write dump: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dump file: %w", err)
	}

	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return fmt.Errorf("move dump into place: %w", err)
	}
	return nil
}

// cachedETag returns the stored ETag only when the cached data file still
// exists; a dangling etag would make the server answer 304 for a file we no
// longer have.
func (c *Client) cachedETag(etagPath, dataPath string) string {
	if _, err := os.Stat(dataPath); err != nil {
		return ""
	}
	data, err := os.ReadFile(etagPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

package enginegraph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-sceneexport/scene"
)

// DefaultMaxAssetBytes caps fetched asset size.
const DefaultMaxAssetBytes int64 = 64 << 20

// Fetcher resolves asset and scene URIs to bytes.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// HTTPFetcher reads http(s), file:// and plain filesystem URIs. Relative
// URIs resolve against BaseURL when set.
type HTTPFetcher struct {
	BaseURL  string
	Client   *http.Client
	MaxBytes int64
}

// NewFetcher creates a fetcher rooted at baseURL.
func NewFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL:  baseURL,
		Client:   &http.Client{Timeout: 60 * time.Second},
		MaxBytes: DefaultMaxAssetBytes,
	}
}

// Fetch returns the content behind uri.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	resolved, err := f.Resolve(uri)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(resolved)
	if err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		return f.fetchHTTP(ctx, resolved)
	}
	if err == nil && parsed.Scheme == "file" {
		resolved = parsed.Path
	}
	return f.readFile(resolved)
}

// Resolve joins relative URIs onto BaseURL.
func (f *HTTPFetcher) Resolve(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", scene.NewError(scene.KindValidation, "asset uri is required", nil)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", scene.NewError(scene.KindValidation, fmt.Sprintf("invalid asset uri %q", uri), err)
	}
	if parsed.Scheme != "" || filepath.IsAbs(uri) || f.BaseURL == "" {
		return uri, nil
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", scene.NewError(scene.KindConfiguration, fmt.Sprintf("invalid asset base url %q", f.BaseURL), err)
	}
	if base.Scheme == "" {
		return filepath.Join(f.BaseURL, filepath.FromSlash(uri)), nil
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(parsed).String(), nil
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, scene.NewError(scene.KindValidation, fmt.Sprintf("invalid asset uri %q", uri), err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, scene.EngineError(fmt.Sprintf("fetch %s", uri), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, scene.NewError(scene.KindNotFound, fmt.Sprintf("asset %s not found", uri), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, scene.NewError(scene.KindEngine, fmt.Sprintf("fetch %s: unexpected status %d", uri, resp.StatusCode), nil)
	}
	return f.readAll(uri, resp.Body)
}

func (f *HTTPFetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, scene.NewError(scene.KindNotFound, fmt.Sprintf("asset %s not found", path), err)
		}
		return nil, scene.EngineError(fmt.Sprintf("open %s", path), err)
	}
	defer file.Close()
	return f.readAll(path, file)
}

func (f *HTTPFetcher) readAll(uri string, r io.Reader) ([]byte, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxAssetBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, scene.EngineError(fmt.Sprintf("read %s", uri), err)
	}
	if int64(len(data)) > limit {
		return nil, scene.NewError(scene.KindValidation, fmt.Sprintf("asset %s exceeds %d bytes", uri, limit), nil)
	}
	return data, nil
}

package uci

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/park285/cheese-duel/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultFetchTimeout = 60 * time.Second

// Fetcher downloads remote engine binaries into a local cache directory.
type Fetcher struct {
	dir     string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewFetcher(dir string) *Fetcher {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "cheese-duel-engines")
	}
	return &Fetcher{
		dir: dir,
		http: &fasthttp.Client{
			ReadTimeout:         defaultFetchTimeout,
			WriteTimeout:        10 * time.Second,
			MaxResponseBodySize: 512 << 20,
		},
		timeout: defaultFetchTimeout,
	}
}

// Fetch returns the local path of the binary behind rawURL, downloading it
// when it is not cached yet.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	target := f.cachePath(rawURL)
	if info, err := os.Stat(target); err == nil && info.Size() > 0 {
		return target, nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("create engine cache dir: %w", err)
	}

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return "", context.DeadlineExceeded
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(rawURL)

	start := time.Now()
	if err := f.http.DoTimeout(req, resp, timeout); err != nil {
		return "", fmt.Errorf("download engine: %w", err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return "", fmt.Errorf("download engine: unexpected status %d", code)
	}
	body := resp.Body()
	if len(body) == 0 {
		return "", fmt.Errorf("download engine: empty body")
	}

	tmp, err := os.CreateTemp(f.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write engine binary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close engine binary: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod engine binary: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("install engine binary: %w", err)
	}

	obslog.L().Info("engine_download",
		zap.String("url", rawURL),
		zap.String("path", target),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)),
	)
	return target, nil
}

func (f *Fetcher) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	base := path.Base(strings.SplitN(rawURL, "?", 2)[0])
	if base == "" || base == "/" || base == "." {
		base = "engine"
	}
	return filepath.Join(f.dir, hex.EncodeToString(sum[:6])+"-"+base)
}

// Package httploop drives single HTTP(S) exchanges for the retriever.
// Redirects are not followed here; they are surfaced as new-location
// outcomes so the retriever can validate and pace every hop itself.
package httploop

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/Tamillat/wget/internal/progress"
	"github.com/Tamillat/wget/internal/quota"
	"github.com/Tamillat/wget/internal/transfer"
	"github.com/Tamillat/wget/pkg/types"
)

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent string
	Headers   map[string]string
	Timeout   time.Duration
	OutputDir string
	Continue  bool
	Progress  progress.Factory
}

// Loop is the request-scheme protocol loop.
type Loop struct {
	opts    Options
	tracker *quota.Tracker
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy URL, "" for direct
}

// New constructs an HTTP loop. tracker may be nil when no quota accounting
// is wanted.
func New(opts Options, tracker *quota.Tracker, logger *slog.Logger) *Loop {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		opts:    opts,
		tracker: tracker,
		logger:  logger,
		clients: make(map[string]*http.Client),
	}
}

// Client returns the direct (unproxied) HTTP client for reuse, e.g. for
// robots.txt fetches.
func (l *Loop) Client() *http.Client {
	return l.client(nil)
}

func (l *Loop) client(proxyURL *url.URL) *http.Client {
	key := ""
	if proxyURL != nil {
		key = proxyURL.String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[key]; ok {
		return c
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &http.Client{
		Timeout:   l.opts.Timeout,
		Transport: transport,
		// The retriever owns redirect handling.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	l.clients[key] = c
	return c
}

// Fetch retrieves u, optionally through proxyURL, writing the body to a file
// under the output directory. A 3xx response yields a new-location outcome
// without touching the disk.
func (l *Loop) Fetch(ctx context.Context, u *url.URL, proxyURL *url.URL, referrer string) (types.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return types.Outcome{Status: types.StatusProtoError}, fmt.Errorf("build request: %w", err)
	}

	if l.opts.UserAgent != "" {
		req.Header.Set("User-Agent", l.opts.UserAgent)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}
	for k, v := range l.opts.Headers {
		req.Header.Set(k, v)
	}

	local := l.localPath(u)
	var restval int64
	if l.opts.Continue {
		if fi, statErr := os.Stat(local); statErr == nil && fi.Mode().IsRegular() {
			restval = fi.Size()
		}
	}
	if restval > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", restval))
	}

	start := time.Now()
	resp, err := l.client(proxyURL).Do(req)
	if err != nil {
		return types.Outcome{Status: types.StatusConnError}, fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return types.Outcome{
			Status:      types.StatusNewLocation,
			NewLocation: resp.Header.Get("Location"),
		}, nil
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusPartialContent:
		// fall through to the transfer below
	default:
		return types.Outcome{Status: types.StatusWrongCode},
			fmt.Errorf("%s: %w (status %d)", u, types.ErrWrongResponse, resp.StatusCode)
	}

	// A 200 on a ranged request means the server ignored the Range header;
	// the whole body follows and the partial file must be discarded.
	if restval > 0 && resp.StatusCode != http.StatusPartialContent {
		restval = 0
	}

	n, err := l.saveBody(resp, local, restval)
	if l.tracker != nil && n > restval {
		l.tracker.Increase(uint64(n - restval))
	}
	if err != nil {
		status := types.StatusProtoError
		if !errors.Is(err, types.ErrWrite) {
			status = types.StatusConnError
		}
		return types.Outcome{Status: status}, err
	}

	elapsed := time.Since(start)
	l.logger.Info("saved",
		"url", u.String(),
		"file", local,
		"bytes", n,
		"rate", progress.Rate(n-restval, elapsed.Milliseconds(), false),
	)

	return types.Outcome{
		Status:    types.StatusOK,
		LocalFile: local,
		Flags: types.DocFlags{
			Succeeded: true,
			IsHTML:    isHTMLContent(resp.Header.Get("Content-Type")),
		},
	}, nil
}

// saveBody streams the response body to the local file, resuming at restval
// when the server honoured the range request.
func (l *Loop) saveBody(resp *http.Response, local string, restval int64) (int64, error) {
	body, identity, err := decodeBody(resp)
	if err != nil {
		return restval, fmt.Errorf("%w: %v", types.ErrRead, err)
	}
	defer body.close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return restval, fmt.Errorf("%w: %v", types.ErrWrite, err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if restval > 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(local, flags, 0o644)
	if err != nil {
		return restval, fmt.Errorf("%w: %v", types.ErrWrite, err)
	}

	// The expected length is authoritative only for identity-encoded bodies
	// with a known Content-Length.
	opts := transfer.Options{Offset: restval}
	if identity && resp.ContentLength >= 0 {
		opts.Expected = restval + resp.ContentLength
		opts.ExpectedValid = true
	}
	if l.opts.Progress != nil {
		expected := int64(-1)
		if opts.ExpectedValid {
			expected = opts.Expected
		}
		opts.Progress = l.opts.Progress(restval, expected)
	}

	sink := bufio.NewWriter(f)
	n, streamErr := transfer.Stream(bufio.NewReaderSize(body.reader, 8192), sink, opts)
	if closeErr := f.Close(); closeErr != nil && streamErr == nil {
		streamErr = fmt.Errorf("%w: %v", types.ErrWrite, closeErr)
	}
	return n, streamErr
}

type decodedBody struct {
	reader  io.Reader
	closers []io.Closer
}

func (b decodedBody) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i].Close()
	}
}

// decodeBody unwraps the Content-Encoding, reporting whether the body was
// identity-encoded (and its Content-Length therefore meaningful).
func decodeBody(resp *http.Response) (decodedBody, bool, error) {
	body := decodedBody{reader: resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return body, true, nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return body, false, fmt.Errorf("gzip decode: %w", err)
		}
		body.reader = gz
		body.closers = append(body.closers, gz)
	case "br":
		body.reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		body.reader = fl
		body.closers = append(body.closers, fl)
	default:
		return body, false, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	return body, false, nil
}

// localPath derives the output file for a URL from the last path segment,
// falling back to index.html for directory-style URLs.
func (l *Loop) localPath(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "index.html"
	}
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return filepath.Join(l.opts.OutputDir, name)
}

func isHTMLContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// Package retrieve holds the per-URL retrieval state machine and the batch
// dispatcher built on top of it. The retriever decides between direct and
// proxied transport, hands the URL to the matching protocol loop, and walks
// server-issued redirects with cycle detection.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/Tamillat/wget/internal/proxy"
	"github.com/Tamillat/wget/pkg/types"
)

// HTTPLoop is the request-scheme protocol loop. It must set NewLocation
// whenever the status signals a redirect and must leave LocalFile unset on
// total failure.
type HTTPLoop interface {
	Fetch(ctx context.Context, u *url.URL, proxyURL *url.URL, referrer string) (types.Outcome, error)
}

// FTPLoop is the file-transfer protocol loop; it never produces redirects.
type FTPLoop interface {
	Fetch(ctx context.Context, u *url.URL, recurse bool) (types.Outcome, error)
}

// Registry records successfully fetched resources. Calls are fire-and-forget.
type Registry interface {
	RegisterDownload(finalURL, localPath string)
	RegisterHTML(finalURL, localPath string)
}

// Result is what one Retrieve call produced.
type Result struct {
	LocalFile string
	FinalURL  string
	Flags     types.DocFlags
}

// Retriever is the retrieval orchestrator.
type Retriever struct {
	httpLoop  HTTPLoop
	ftpLoop   FTPLoop
	proxies   *proxy.Resolver
	registry  Registry
	logger    *slog.Logger
	recursive bool
	referer   string

	completed atomic.Int64
}

// New constructs a retriever. proxies and registry may be nil; recursive
// mirrors the caller's recursion setting so FTP dispatches can advertise it.
func New(httpLoop HTTPLoop, ftpLoop FTPLoop, proxies *proxy.Resolver, registry Registry, recursive bool, referer string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		httpLoop:  httpLoop,
		ftpLoop:   ftpLoop,
		proxies:   proxies,
		registry:  registry,
		logger:    logger,
		recursive: recursive,
		referer:   referer,
	}
}

// Retrieve fetches one URL, following redirects until a terminal outcome.
// The returned Result carries the final URL, which differs from rawURL when
// redirects occurred, and the local file written, if any.
func (r *Retriever) Retrieve(ctx context.Context, rawURL, referrer string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Result{}, fmt.Errorf("%q: %w", rawURL, types.ErrURLParse)
	}
	if referrer == "" {
		referrer = r.referer
	}

	current := Canonical(u)
	// Created lazily on the first redirect; holds the canonical form of
	// every hop seen during this call.
	var history map[string]struct{}

	for {
		if err := ctx.Err(); err != nil {
			return Result{FinalURL: current}, err
		}

		outcome, ferr := r.dispatch(ctx, u, referrer, history != nil)
		if outcome.Status != types.StatusNewLocation {
			return r.finish(current, outcome, ferr)
		}

		loc := outcome.NewLocation
		if loc == "" {
			return Result{FinalURL: current},
				fmt.Errorf("redirect from %s carries no location: %w", current, types.ErrWrongResponse)
		}

		// Servers are not supposed to emit relative redirect targets, but
		// plenty do; resolve against the current URL like browsers do.
		target, perr := u.Parse(loc)
		if perr != nil || target.Scheme == "" || target.Host == "" {
			return Result{FinalURL: current}, fmt.Errorf("redirect target %q: %w", loc, types.ErrURLParse)
		}
		// Use the canonical form for history, so relative-path artifacts
		// cannot dodge the cycle check.
		next := Canonical(target)

		if history == nil {
			history = make(map[string]struct{})
			// Seed with the URL that produced this redirect, so a bounce
			// straight back is caught on the next hop.
			history[current] = struct{}{}
		}
		if _, seen := history[next]; seen {
			return Result{FinalURL: next}, fmt.Errorf("%s: %w", next, types.ErrRedirectCycle)
		}
		history[next] = struct{}{}

		r.logger.Debug("following redirect", "from", current, "to", next)
		u = target
		current = next
	}
}

// dispatch resolves the transport for u and invokes the matching protocol
// loop. Proxied retrievals always go through the request-scheme loop,
// whatever the target scheme.
func (r *Retriever) dispatch(ctx context.Context, u *url.URL, referrer string, redirected bool) (types.Outcome, error) {
	scheme := strings.ToLower(u.Scheme)

	var proxyURL *url.URL
	if r.proxies != nil && !r.proxies.Excluded(u.Hostname()) {
		if raw := r.proxies.ForScheme(scheme); raw != "" {
			pu, err := url.Parse(raw)
			if err != nil || pu.Scheme == "" || pu.Host == "" {
				return types.Outcome{}, fmt.Errorf("proxy URL %q: %w", raw, types.ErrProxyConfig)
			}
			if !strings.EqualFold(pu.Scheme, "http") {
				return types.Outcome{},
					fmt.Errorf("proxy URL %q: scheme must be http: %w", raw, types.ErrProxyConfig)
			}
			proxyURL = pu
		}
	}

	switch {
	case proxyURL != nil:
		return r.httpLoop.Fetch(ctx, u, proxyURL, referrer)
	case scheme == "http" || scheme == "https":
		return r.httpLoop.Fetch(ctx, u, nil, referrer)
	case scheme == "ftp":
		// Redirect targets must never trigger recursive FTP mirroring.
		recurse := r.recursive && !redirected
		return r.ftpLoop.Fetch(ctx, u, recurse)
	default:
		return types.Outcome{Status: types.StatusProtoError},
			fmt.Errorf("%s: unsupported scheme %q: %w", u, scheme, types.ErrURLParse)
	}
}

func (r *Retriever) finish(finalURL string, outcome types.Outcome, ferr error) (Result, error) {
	if r.registry != nil && outcome.LocalFile != "" && outcome.Flags.Succeeded {
		r.registry.RegisterDownload(finalURL, outcome.LocalFile)
		if outcome.Flags.IsHTML {
			r.registry.RegisterHTML(finalURL, outcome.LocalFile)
		}
	}
	if ferr == nil {
		r.completed.Add(1)
	}
	return Result{
		LocalFile: outcome.LocalFile,
		FinalURL:  finalURL,
		Flags:     outcome.Flags,
	}, ferr
}

// Completed returns how many retrievals have finished successfully over the
// lifetime of this retriever.
func (r *Retriever) Completed() int64 {
	return r.completed.Load()
}

// Package recur expands successfully fetched HTML pages by retrieving the
// links they contain, depth-first, one page at a time.
package recur

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/Tamillat/wget/internal/config"
	"github.com/Tamillat/wget/internal/quota"
	"github.com/Tamillat/wget/internal/retrieve"
	"github.com/Tamillat/wget/internal/robots"
	"github.com/Tamillat/wget/pkg/types"
)

// Fetcher retrieves a single URL. Satisfied by *retrieve.Retriever.
type Fetcher interface {
	Retrieve(ctx context.Context, rawURL, referrer string) (retrieve.Result, error)
}

// Walker is the recursive traversal collaborator invoked by the batch
// dispatcher for HTML pages.
type Walker struct {
	fetcher Fetcher
	robots  *robots.Agent
	tracker *quota.Tracker
	limiter *hostLimiter
	logger  *slog.Logger

	maxDepth        int
	followExternal  bool
	maxLinksPerPage int

	mu      sync.Mutex
	visited map[string]struct{}
}

// NewWalker constructs a walker. robotsAgent and tracker may be nil.
func NewWalker(cfg config.RecurConfig, fetcher Fetcher, robotsAgent *robots.Agent, tracker *quota.Tracker, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	maxLinks := cfg.MaxLinksPerPage
	if maxLinks <= 0 {
		maxLinks = 200
	}
	return &Walker{
		fetcher:         fetcher,
		robots:          robotsAgent,
		tracker:         tracker,
		limiter:         newHostLimiter(cfg.PerHostDelay.Duration),
		logger:          logger,
		maxDepth:        maxDepth,
		followExternal:  cfg.FollowExternal,
		maxLinksPerPage: maxLinks,
		visited:         make(map[string]struct{}),
	}
}

// Reset clears the visited set before a new batch.
func (w *Walker) Reset() {
	w.mu.Lock()
	w.visited = make(map[string]struct{})
	w.mu.Unlock()
}

// Expand retrieves the links found in localFile, an HTML document fetched
// from baseURL, recursing into HTML results up to the depth limit.
func (w *Walker) Expand(ctx context.Context, localFile, baseURL string) error {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return fmt.Errorf("base url %q: %w", baseURL, types.ErrURLParse)
	}
	// The page itself counts as visited.
	w.markVisited(retrieve.Canonical(base))
	return w.expand(ctx, localFile, base, 1)
}

func (w *Walker) expand(ctx context.Context, localFile string, base *url.URL, depth int) error {
	if depth > w.maxDepth {
		return nil
	}

	links, err := w.extractLinks(localFile, base)
	if err != nil {
		return err
	}

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.tracker != nil && w.tracker.Exceeded() {
			return types.ErrQuotaExceeded
		}

		key := retrieve.Canonical(link)
		if w.alreadyVisited(key) {
			continue
		}
		w.markVisited(key)

		if w.robots != nil && !w.robots.Allowed(ctx, link) {
			w.logger.Debug("blocked by robots", "url", link.String())
			continue
		}
		if err := w.limiter.Wait(ctx, link.Hostname()); err != nil {
			return err
		}

		res, err := w.fetcher.Retrieve(ctx, link.String(), base.String())
		if err != nil {
			w.logger.Warn("recursive fetch failed", "url", link.String(), "error", err)
			continue
		}
		if res.Flags.Succeeded && res.Flags.IsHTML && res.LocalFile != "" {
			next, perr := url.Parse(res.FinalURL)
			if perr != nil || !next.IsAbs() {
				next = link
			}
			if err := w.expand(ctx, res.LocalFile, next, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractLinks pulls anchor targets out of the saved page, resolved against
// base, filtered and capped the same way on every page.
func (w *Walker) extractLinks(localFile string, base *url.URL) ([]*url.URL, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	seen := make(map[string]struct{})
	links := make([]*url.URL, 0, w.maxLinksPerPage)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return true
		}

		u, perr := base.Parse(href)
		if perr != nil {
			return true
		}
		u.Fragment = ""
		if !w.acceptLink(base, u) {
			return true
		}

		key := u.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		links = append(links, u)
		return len(links) < w.maxLinksPerPage
	})

	return links, nil
}

func (w *Walker) acceptLink(base, target *url.URL) bool {
	scheme := strings.ToLower(target.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if !w.followExternal && !strings.EqualFold(base.Hostname(), target.Hostname()) {
		return false
	}
	return true
}

func (w *Walker) alreadyVisited(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.visited[key]
	return ok
}

func (w *Walker) markVisited(key string) {
	w.mu.Lock()
	w.visited[key] = struct{}{}
	w.mu.Unlock()
}

// Package registry remembers which URLs were downloaded where. The in-memory
// store backs redirect-aware bookkeeping; an optional SQL manifest persists
// the same mappings for later inspection.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store maps final URLs to the local files they were written to, with HTML
// documents tracked separately for recursive expansion. Registration is
// fire-and-forget: manifest failures are logged, never returned.
type Store struct {
	mu        sync.Mutex
	downloads map[string]string
	html      map[string]string

	manifest *Manifest
	logger   *slog.Logger
}

// NewStore creates a store. manifest may be nil.
func NewStore(manifest *Manifest, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		downloads: make(map[string]string),
		html:      make(map[string]string),
		manifest:  manifest,
		logger:    logger,
	}
}

// RegisterDownload records that finalURL was saved to localPath.
func (s *Store) RegisterDownload(finalURL, localPath string) {
	s.mu.Lock()
	s.downloads[finalURL] = localPath
	s.mu.Unlock()

	if s.manifest != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.manifest.Record(ctx, finalURL, localPath, false); err != nil {
			s.logger.Warn("manifest record failed", "url", finalURL, "error", err)
		}
	}
}

// RegisterHTML records that the file saved for finalURL is an HTML document.
func (s *Store) RegisterHTML(finalURL, localPath string) {
	s.mu.Lock()
	s.html[finalURL] = localPath
	s.mu.Unlock()

	if s.manifest != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.manifest.Record(ctx, finalURL, localPath, true); err != nil {
			s.logger.Warn("manifest record failed", "url", finalURL, "error", err)
		}
	}
}

// Downloaded returns the local file a URL was saved to, if any.
func (s *Store) Downloaded(finalURL string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.downloads[finalURL]
	return path, ok
}

// IsHTML reports whether the file saved for finalURL was registered as HTML.
func (s *Store) IsHTML(finalURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.html[finalURL]
	return ok
}

// Count returns the number of registered downloads.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.downloads)
}

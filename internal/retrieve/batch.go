package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Tamillat/wget/internal/quota"
	"github.com/Tamillat/wget/pkg/types"
)

// Traverser expands a successfully fetched HTML page into further
// retrievals. Reset clears any traversal state carried over from a previous
// batch.
type Traverser interface {
	Reset()
	Expand(ctx context.Context, localFile, baseURL string) error
}

// Dispatcher retrieves every URL named by a source document in order.
type Dispatcher struct {
	retriever   *Retriever
	tracker     *quota.Tracker
	traverser   Traverser
	recursive   bool
	deleteAfter bool
	logger      *slog.Logger
}

// NewDispatcher constructs a dispatcher. tracker and traverser may be nil.
func NewDispatcher(retriever *Retriever, tracker *quota.Tracker, traverser Traverser, recursive, deleteAfter bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		retriever:   retriever,
		tracker:     tracker,
		traverser:   traverser,
		recursive:   recursive,
		deleteAfter: deleteAfter,
		logger:      logger,
	}
}

// RetrieveAll reads URLs from the file at source, treating it as an HTML
// document when isHTML is set and as one URL per line otherwise, and
// retrieves each in order. Individual failures are logged and the batch
// continues; passing the download quota stops it with ErrQuotaExceeded. The
// returned count includes the URL whose turn tripped the quota check.
func (d *Dispatcher) RetrieveAll(ctx context.Context, source string, isHTML bool) (int, error) {
	items, err := LoadItems(source, isHTML)
	if err != nil {
		return 0, fmt.Errorf("load url list: %w", err)
	}
	if d.traverser != nil {
		d.traverser.Reset()
	}

	count := 0
	for _, item := range items {
		count++
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if d.tracker != nil && d.tracker.Exceeded() {
			d.logger.Warn("download quota exceeded, stopping batch",
				"downloaded", d.tracker.Total(), "attempted", count)
			return count, types.ErrQuotaExceeded
		}

		res, err := d.retriever.Retrieve(ctx, item.URL, item.Referrer)
		if err != nil {
			d.logger.Warn("retrieval failed", "url", item.URL, "error", err)
		}

		succeeded := err == nil && res.Flags.Succeeded
		if d.recursive && succeeded && res.Flags.IsHTML && d.traverser != nil {
			base := res.FinalURL
			if base == "" {
				base = item.URL
			}
			if terr := d.traverser.Expand(ctx, res.LocalFile, base); terr != nil {
				d.logger.Warn("recursive expansion failed", "url", base, "error", terr)
			}
		}

		if d.deleteAfter && res.LocalFile != "" {
			if _, statErr := os.Stat(res.LocalFile); statErr == nil {
				d.logger.Info("removing file after use", "file", res.LocalFile)
				if rmErr := os.Remove(res.LocalFile); rmErr != nil {
					d.logger.Warn("unlink failed", "file", res.LocalFile, "error", rmErr)
				}
				// The file is gone; it must not be mistaken for a retained
				// artifact.
				res.Flags.Succeeded = false
			}
		}
	}
	return count, nil
}

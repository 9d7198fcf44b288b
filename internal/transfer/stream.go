// Package transfer implements the byte-copy primitive shared by every
// protocol loop: it moves data from a live connection into a local sink,
// honouring a resume offset and an optional expected-length cap.
package transfer

import (
	"bufio"
	"fmt"
	"io"

	"github.com/Tamillat/wget/internal/progress"
	"github.com/Tamillat/wget/pkg/types"
)

// chunkSize is the unit of network reads and sink writes.
const chunkSize = 8192

// Flusher is implemented by sinks that buffer writes. The streamer flushes
// after every chunk so partially downloaded files are visible on disk while
// the transfer is still running.
type Flusher interface {
	Flush() error
}

// Options controls a single Stream call.
type Options struct {
	// Offset is the number of bytes already present in the sink, which must
	// have been opened for appending when it is non-zero. It seeds the
	// returned total and the progress display.
	Offset int64

	// Expected is the total size of the resource, including Offset. It is
	// honoured only when ExpectedValid is set; Expected == 0 with
	// ExpectedValid means exactly zero bytes remain to be read. Without
	// ExpectedValid the copy runs until the connection closes.
	Expected      int64
	ExpectedValid bool

	// Progress, when non-nil, receives one update per chunk and is finished
	// when the copy ends regardless of outcome.
	Progress progress.Reporter
}

// Stream copies src to dst until end of stream, a read error, a write error,
// or (in capped mode) the expected total is reached. Data already buffered
// in src is written out before any new read is issued, so bytes a caller
// peeked at earlier keep their position in the output. The returned total
// includes Options.Offset; read and write failures are distinguished as
// types.ErrRead and types.ErrWrite.
func Stream(src *bufio.Reader, dst io.Writer, opts Options) (int64, error) {
	total := opts.Offset
	if opts.Progress != nil {
		defer opts.Progress.Finish()
	}

	buf := make([]byte, chunkSize)

	// Drain bytes an earlier caller peeked at (e.g. to sniff a greeting)
	// before touching the network again.
	for src.Buffered() > 0 {
		n := src.Buffered()
		if n > chunkSize {
			n = chunkSize
		}
		n, _ = src.Read(buf[:n]) // served from the buffer, cannot fail
		if n == 0 {
			break
		}
		if err := writeChunk(dst, buf[:n]); err != nil {
			return total, err
		}
		total += int64(n)
		if opts.Progress != nil {
			opts.Progress.Update(int64(n))
		}
	}

	for {
		if opts.ExpectedValid && total >= opts.Expected {
			return total, nil
		}
		amount := int64(chunkSize)
		if opts.ExpectedValid && opts.Expected-total < amount {
			amount = opts.Expected - total
		}

		n, err := src.Read(buf[:amount])
		if n > 0 {
			if werr := writeChunk(dst, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if opts.Progress != nil {
				opts.Progress.Update(int64(n))
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("%w: %v", types.ErrRead, err)
		}
	}
}

func writeChunk(dst io.Writer, p []byte) error {
	if _, err := dst.Write(p); err != nil {
		return fmt.Errorf("%w: %v", types.ErrWrite, err)
	}
	if f, ok := dst.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrWrite, err)
		}
	}
	return nil
}

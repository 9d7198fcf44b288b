package progress

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives the progress of a single transfer. Implementations are
// created per transfer and finished exactly once when the transfer ends,
// regardless of outcome.
type Reporter interface {
	// Update records that n more bytes have been copied.
	Update(n int64)
	// Finish finalises the display.
	Finish()
}

// Factory builds a Reporter for one transfer. offset is the resume position
// and expected the total size in bytes, or a negative value when the total
// is unknown.
type Factory func(offset, expected int64) Reporter

// Nop discards all updates. Used when progress display is disabled.
type Nop struct{}

func (Nop) Update(int64) {}
func (Nop) Finish()      {}

// Bar renders a terminal progress bar for one transfer.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar creates a bar seeded at offset out of expected total bytes. Pass a
// negative expected for an indeterminate spinner.
func NewBar(w io.Writer, offset, expected int64) *Bar {
	bar := progressbar.NewOptions64(expected,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
	)
	if offset > 0 {
		_ = bar.Add64(offset)
	}
	return &Bar{bar: bar}
}

// BarFactory returns a Factory producing terminal bars on w.
func BarFactory(w io.Writer) Factory {
	return func(offset, expected int64) Reporter {
		return NewBar(w, offset, expected)
	}
}

func (b *Bar) Update(n int64) {
	_ = b.bar.Add64(n)
}

func (b *Bar) Finish() {
	_ = b.bar.Finish()
}

package progress

import "testing"

func TestRate(t *testing.T) {
	tests := []struct {
		name   string
		bytes  int64
		millis int64
		pad    bool
		want   string
	}{
		{"bytes per second", 512, 1000, false, "512.00 B/s"},
		{"kilobytes per second", 2048, 1000, false, "2.00 K/s"},
		{"megabytes per second", 5 * 1024 * 1024, 1000, false, "5.00 M/s"},
		{"gigabytes per second", 3 * 1024 * 1024 * 1024, 1000, false, "3.00 GB/s"},
		{"boundary stays in lower unit", 1023, 1000, false, "1023.00 B/s"},
		{"boundary promotes", 1024, 1000, false, "1.00 K/s"},
		{"sub-second transfer", 1024, 500, false, "2.00 K/s"},
		{"padded output", 2048, 1000, true, "   2.00 K/s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rate(tt.bytes, tt.millis, tt.pad); got != tt.want {
				t.Errorf("Rate(%d, %d, %v) = %q, want %q", tt.bytes, tt.millis, tt.pad, got, tt.want)
			}
		})
	}
}

func TestRateZeroElapsed(t *testing.T) {
	// Zero elapsed time falls back to the timer granularity instead of
	// dividing by zero.
	got := Rate(1024, 0, false)
	want := "100.00 K/s" // 1024 bytes over 10ms
	if got != want {
		t.Errorf("Rate(1024, 0, false) = %q, want %q", got, want)
	}
}

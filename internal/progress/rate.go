package progress

import "fmt"

// timerGranularityMillis stands in for a measured elapsed time of zero,
// which happens when a transfer finishes under the resolution of the clock.
const timerGranularityMillis = 10

// Rate formats a download rate for the given byte count and elapsed
// milliseconds, scaling the unit so the number stays readable. When pad is
// set the numeric portion is right-justified to seven characters so stacked
// progress lines keep their columns aligned.
func Rate(bytes, millis int64, pad bool) string {
	if millis == 0 {
		millis = timerGranularityMillis
	}

	rate := float64(bytes) * 1000 / float64(millis)
	unit := "B/s"
	switch {
	case rate < 1024:
	case rate < 1024*1024:
		rate /= 1024
		unit = "K/s"
	case rate < 1024*1024*1024:
		rate /= 1024 * 1024
		unit = "M/s"
	default:
		rate /= 1024 * 1024 * 1024
		unit = "GB/s"
	}

	if pad {
		return fmt.Sprintf("%7.2f %s", rate, unit)
	}
	return fmt.Sprintf("%.2f %s", rate, unit)
}

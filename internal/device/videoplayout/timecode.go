package videoplayout

import "fmt"

// FormatTimecode converts a wall-clock millisecond value into an
// HH:MM:SS:FF device timecode at the given frame rate.
// Framing rule: FF = round((ms mod 1000) * timeBase / 1000), with overflow
// carrying into seconds, e.g. at timeBase=25: ms=10000 -> "00:00:10:00",
// ms=1200 -> "00:00:01:05"; at timeBase=50: ms=11200 -> "00:00:11:10".
func FormatTimecode(ms int64, timeBaseFPS int) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	remainderMs := ms % 1000

	frame := roundDiv(remainderMs*int64(timeBaseFPS), 1000)
	if frame >= int64(timeBaseFPS) {
		frame -= int64(timeBaseFPS)
		totalSeconds++
	}

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frame)
}

// roundDiv rounds a/b to the nearest integer, half away from zero. a and b
// are both non-negative in every call site here.
func roundDiv(a, b int64) int64 {
	return (a + b/2) / b
}

// MsToFrames converts an elapsed millisecond duration to a frame count at
// timeBaseFPS, used for computing seek offsets: seek = (now - start)
// converted to device units (frames).
func MsToFrames(ms int64, timeBaseFPS int) int {
	return int(roundDiv(ms*int64(timeBaseFPS), 1000))
}

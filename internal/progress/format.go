package progress

import (
	"fmt"
	"strings"
	"time"
)

// FormatBytes formats bytes as a human-readable IEC string such as "1.5 KiB".
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	value := float64(b) / unit
	i := 0
	for value >= unit && i < len(units)-1 {
		value /= unit
		i++
	}

	if value < 10 {
		return fmt.Sprintf("%.1f %s", value, units[i])
	}
	return fmt.Sprintf("%.0f %s", value, units[i])
}

// FormatSpeed formats a byte rate, e.g. "2.0 MiB/s".
func FormatSpeed(bytesPerSec float64) string {
	return FormatBytes(int64(bytesPerSec)) + "/s"
}

// FormatDuration formats a duration as a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatETA is FormatDuration with a placeholder for an unknown estimate.
func FormatETA(d time.Duration) string {
	if d == UnknownETA || d < 0 {
		return "--"
	}
	return FormatDuration(d)
}

// byteUnits maps suffixes to multipliers. IEC suffixes are powers of 1024,
// SI suffixes powers of 1000. Longer suffixes are listed first.
var byteUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TiB", 1 << 40},
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"TB", 1000 * 1000 * 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"MB", 1000 * 1000},
	{"KB", 1000},
	{"B", 1},
}

// ParseBytes parses a human-readable byte string (e.g., "256MiB" or "1MB").
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	multiplier := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	var value float64
	if _, err := fmt.Sscanf(s, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}

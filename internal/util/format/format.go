// Package format renders sizes, names and paths for terminal output.
package format

import (
	"path"
	"strconv"
	"strings"
)

var byteUnits = []string{"KB", "MB", "GB", "TB", "PB"}

// HumanizeBytes converts a byte count into a human-readable string (e.g., "1.5 MB").
func HumanizeBytes(b int64) string {
	if b < 0 {
		return "-" + HumanizeBytes(-b)
	}
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < len(byteUnits)-1; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + byteUnits[exp]
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	rs := []rune(s)
	if n <= 0 || len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

// StemName returns the stem an output file holds: its base name without
// extension. Server paths may use either separator.
func StemName(file string) string {
	base := path.Base(strings.ReplaceAll(file, `\`, "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// StemList joins the stem names of files, e.g. "vocals, drums".
func StemList(files []string) string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, StemName(f))
	}
	return strings.Join(names, ", ")
}

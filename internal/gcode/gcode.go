package gcode

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// GeneratedWithPrefix marks the slicer header line the metadata block is
	// inserted after, e.g. ";Generated with Cura_SteamEngine 5.2.1".
	GeneratedWithPrefix = ";Generated with "

	// FilamentUsedPrefix marks Cura's filament usage header line, e.g.
	// ";Filament used: 1.234m".
	FilamentUsedPrefix = ";Filament used: "
)

var metresToMillimetres = decimal.NewFromInt(1000)

// IsComment reports whether the line carries no G-code command: blank lines
// and `;` comments.
func IsComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, ";")
}

// FindAnchor returns the index at which a metadata block should be inserted.
// The line matching GeneratedWithPrefix wins and the block goes right after
// it; otherwise the block goes right before the first command line. Files
// containing neither (e.g. comment-only files) have no anchor.
func FindAnchor(lines []string) (int, bool) {
	for i, line := range lines {
		if strings.HasPrefix(line, GeneratedWithPrefix) {
			return i + 1, true
		}
	}
	for i, line := range lines {
		if !IsComment(line) {
			return i, true
		}
	}
	return 0, false
}

// InsertBlock returns a new line sequence equal to lines with block spliced
// in at index at. The input slices are never modified.
func InsertBlock(lines []string, at int, block []string) []string {
	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:at]...)
	out = append(out, block...)
	out = append(out, lines[at:]...)
	return out
}

// FilamentUsed scans for Cura's ";Filament used:" header line and returns
// the reported amount converted from metres to millimetres. The second
// return value is false when the line is absent or its value does not parse.
func FilamentUsed(lines []string) (decimal.Decimal, bool) {
	for _, line := range lines {
		if !strings.HasPrefix(line, FilamentUsedPrefix) {
			continue
		}

		fields := strings.Fields(strings.TrimPrefix(line, FilamentUsedPrefix))
		if len(fields) == 0 {
			return decimal.Decimal{}, false
		}
		value := strings.TrimSuffix(fields[len(fields)-1], "m")

		metres, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return metres.Mul(metresToMillimetres), true
	}
	return decimal.Decimal{}, false
}

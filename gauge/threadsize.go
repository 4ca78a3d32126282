package gauge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Thread sizes are accepted in fractional ("1/4-20"), numbered ("10-32" or
// bare "10"), or decimal (".250-20") form and stored canonically in decimal
// form. Numbered sizes translate per ANSI B1.1: major diameter
// 0.060 + 0.013 * n inches.

var (
	fractionalSizeRe = regexp.MustCompile(`^(\d+)/(\d+)(?:-(\d+(?:\.\d+)?))?$`)
	numberedSizeRe   = regexp.MustCompile(`^#?(\d{1,2})(?:-(\d+(?:\.\d+)?))?$`)
	decimalSizeRe    = regexp.MustCompile(`^(\.\d+|\d+\.\d+)(?:-(\d+(?:\.\d+)?))?$`)
)

// CanonicalThreadSize converts a thread size in any accepted form to the
// canonical decimal form, e.g. "1/4-20" -> ".250-20" and "10-32" -> ".190-32".
// Whole-inch and decimal inputs pass through with normalized formatting.
func CanonicalThreadSize(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("thread size is empty")
	}

	if m := fractionalSizeRe.FindStringSubmatch(s); m != nil {
		num, _ := strconv.Atoi(m[1])
		den, _ := strconv.Atoi(m[2])
		if den == 0 {
			return "", fmt.Errorf("thread size %q has zero denominator", input)
		}
		return formatSize(float64(num)/float64(den), m[3]), nil
	}

	if m := decimalSizeRe.FindStringSubmatch(s); m != nil {
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return "", fmt.Errorf("thread size %q: %w", input, err)
		}
		return formatSize(val, m[2]), nil
	}

	if m := numberedSizeRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 12 {
			return "", fmt.Errorf("numbered thread size %q out of range 0-12", input)
		}
		return formatSize(0.060+0.013*float64(n), m[2]), nil
	}

	return "", fmt.Errorf("unrecognized thread size %q", input)
}

// formatSize renders a major diameter and optional pitch in canonical form.
// Diameters under one inch drop the leading zero (".250"), matching the
// convention on gauge markings.
func formatSize(diameter float64, pitch string) string {
	str := strconv.FormatFloat(diameter, 'f', 3, 64)
	if strings.HasPrefix(str, "0.") {
		str = str[1:]
	}
	if pitch != "" {
		return str + "-" + pitch
	}
	return str
}

package utils

import (
	"regexp"
	"strings"
)

// seriesCode matches codes such as PN01288PM or PD04637PD: two letters,
// five digits, two letters.
var seriesCode = regexp.MustCompile(`^[A-Z]{2}\d{5}[A-Z]{2}$`)

// NormalizeCode normalizes a user-input series code: whitespace is trimmed
// and letters are uppercased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeCodes splits every argument on commas, hyphens and whitespace and
// normalizes the pieces. Empty pieces are dropped; order and duplicates are
// kept.
func NormalizeCodes(args ...string) []string {
	out := []string{}
	for _, arg := range args {
		fields := strings.FieldsFunc(arg, func(r rune) bool {
			return r == ',' || r == '-' || r == ' ' || r == '\t' || r == '\n'
		})
		for _, f := range fields {
			if c := NormalizeCode(f); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

// IsSeriesCode reports whether code has the shape of a BCRPData series code.
// It does not check that the series exists.
func IsSeriesCode(code string) bool {
	return seriesCode.MatchString(code)
}

// Dedupe returns codes without repeats, keeping the first occurrence.
func Dedupe(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

package bcrp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// months maps English and Spanish month abbreviations (lower case) to months.
// The API spells September "Set" in Spanish.
var months = map[string]time.Month{
	"jan": time.January, "ene": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April, "abr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August, "ago": time.August,
	"sep": time.September, "set": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December, "dic": time.December,
}

// ParsePeriod normalises a period label to a calendar date. Monthly,
// quarterly, semi-annual and annual labels map to the first day of the
// period; daily labels map to that day.
//
//	"Ene.2010", "Jan.10"     monthly
//	"T1.10", "Q2.2010"       quarterly
//	"S2.10"                  semi-annual
//	"2010"                   annual
//	"02.Ene.10"              daily
//	"2010-01", "2010-01-02"  ISO
func ParsePeriod(label string) (time.Time, error) {
	s := strings.TrimSpace(label)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty period")
	}

	if strings.Contains(s, "-") {
		for _, layout := range []string{"2006-01-02", "2006-1-2", "2006-01", "2006-1"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised ISO period")
	}

	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		y, err := strconv.Atoi(parts[0])
		if err != nil || len(parts[0]) != 4 {
			return time.Time{}, fmt.Errorf("unrecognised annual period")
		}
		return date(y, time.January, 1), nil

	case 2:
		y, err := parseYear(parts[1])
		if err != nil {
			return time.Time{}, err
		}
		head := strings.ToLower(parts[0])
		if m, ok := months[head]; ok {
			return date(y, m, 1), nil
		}
		if len(head) == 2 {
			n, err := strconv.Atoi(head[1:])
			if err == nil {
				switch head[0] {
				case 't', 'q':
					if n >= 1 && n <= 4 {
						return date(y, time.Month(3*(n-1)+1), 1), nil
					}
				case 's':
					if n == 1 || n == 2 {
						return date(y, time.Month(6*(n-1)+1), 1), nil
					}
				}
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised period prefix %q", parts[0])

	case 3:
		d, err := strconv.Atoi(parts[0])
		if err != nil || d < 1 || d > 31 {
			return time.Time{}, fmt.Errorf("invalid day %q", parts[0])
		}
		m, ok := months[strings.ToLower(parts[1])]
		if !ok {
			return time.Time{}, fmt.Errorf("invalid month %q", parts[1])
		}
		y, err := parseYear(parts[2])
		if err != nil {
			return time.Time{}, err
		}
		t := date(y, m, d)
		if t.Day() != d {
			return time.Time{}, fmt.Errorf("day %d out of range for %s %d", d, m, y)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised period")
}

// parseYear accepts four-digit years and two-digit years (70-99 → 19xx).
func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	switch len(s) {
	case 4:
		return y, nil
	case 2:
		if y >= 70 {
			return 1900 + y, nil
		}
		return 2000 + y, nil
	}
	return 0, fmt.Errorf("invalid year %q", s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

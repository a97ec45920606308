package utils

import (
	"fmt"
	"time"
)

// Lima is the time zone of the Banco Central de Reserva del Perú (UTC-5).
var Lima *time.Location

func init() {
	var err error
	Lima, err = time.LoadLocation("America/Lima")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		Lima = time.FixedZone("PET", -5*60*60)
	}
}

// NowLima returns the current time in Lima.
func NowLima() time.Time {
	return time.Now().In(Lima)
}

// MonthPeriod formats t as a monthly request period, e.g. "2010-1".
func MonthPeriod(t time.Time) string {
	return fmt.Sprintf("%d-%d", t.Year(), int(t.Month()))
}

// DayPeriod formats t as a daily request period, e.g. "2010-1-2".
func DayPeriod(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}

// YearPeriod formats t as an annual request period, e.g. "2010".
func YearPeriod(t time.Time) string {
	return fmt.Sprintf("%d", t.Year())
}

// LastMonths returns the monthly range covering the n months up to and
// including the month of now.
func LastMonths(now time.Time, n int) (start, end string) {
	if n < 1 {
		n = 1
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return MonthPeriod(first.AddDate(0, -(n - 1), 0)), MonthPeriod(first)
}

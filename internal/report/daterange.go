package report

import (
	"errors"
	"time"
)

const maxRangeDays = 365

var (
	// ErrMissingDates indicates the request omitted start or end date.
	ErrMissingDates = errors.New("report: start_date and end_date are required")
	// ErrBadDateFormat indicates a date did not parse as YYYY-MM-DD.
	ErrBadDateFormat = errors.New("report: invalid date format, use YYYY-MM-DD")
	// ErrRangeTooLong indicates the window exceeds one year.
	ErrRangeTooLong = errors.New("report: date range cannot exceed 1 year")
	// ErrRangeInverted indicates end precedes start.
	ErrRangeInverted = errors.New("report: end_date precedes start_date")
)

// DateRange is an inclusive reporting window: Start at midnight, End at
// the last instant of its day.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange validates and parses an ISO date pair. Both fields are
// required; the window must not be inverted or longer than 365 days.
func ParseDateRange(start, end string) (DateRange, error) {
	if start == "" || end == "" {
		return DateRange{}, ErrMissingDates
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return DateRange{}, ErrBadDateFormat
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return DateRange{}, ErrBadDateFormat
	}
	if e.Before(s) {
		return DateRange{}, ErrRangeInverted
	}
	if e.Sub(s) > maxRangeDays*24*time.Hour {
		return DateRange{}, ErrRangeTooLong
	}
	return DateRange{
		Start: s,
		End:   e.Add(24*time.Hour - time.Nanosecond),
	}, nil
}

// StartDate returns the inclusive lower bound as an ISO date.
func (r DateRange) StartDate() string { return r.Start.Format("2006-01-02") }

// EndDate returns the inclusive upper bound as an ISO date.
func (r DateRange) EndDate() string { return r.End.Format("2006-01-02") }

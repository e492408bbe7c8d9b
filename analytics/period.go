package analytics

import "time"

// Period names a trailing query window.
type Period string

const (
	Period10Min Period = "10min"
	Period1H    Period = "1h"
	Period24H   Period = "24h"
	Period7D    Period = "7d"
	PeriodAll   Period = "all"
)

// DefaultWindow applies when neither a start nor a period is given.
const DefaultWindow = 7 * 24 * time.Hour

// ParsePeriod maps unknown names to 24h. The empty string stays empty.
func ParsePeriod(s string) Period {
	switch p := Period(s); p {
	case "", Period10Min, Period1H, Period24H, Period7D, PeriodAll:
		return p
	default:
		return Period24H
	}
}

// Duration is zero for PeriodAll.
func (p Period) Duration() time.Duration {
	switch p {
	case Period10Min:
		return 10 * time.Minute
	case Period1H:
		return time.Hour
	case Period7D:
		return 7 * 24 * time.Hour
	case PeriodAll:
		return 0
	default:
		return 24 * time.Hour
	}
}

// Window returns [now-d, now] in epoch milliseconds; PeriodAll starts at 0.
func (p Period) Window(now time.Time) (start, end int64) {
	end = now.UnixMilli()
	if p == PeriodAll {
		return 0, end
	}
	return now.Add(-p.Duration()).UnixMilli(), end
}

// Query selects a history range. Zero Start or End mean unset; an explicit Start wins over Period.
type Query struct {
	Start  int64
	End    int64
	Period Period
}

func (q Query) resolve(now time.Time) (start, end int64) {
	end = q.End
	if end <= 0 {
		end = now.UnixMilli()
	}
	switch {
	case q.Start > 0:
		start = q.Start
	case q.Period != "":
		start, _ = q.Period.Window(now)
	default:
		start = end - DefaultWindow.Milliseconds()
	}
	return start, end
}

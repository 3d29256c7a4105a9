package provider

import (
	"strings"
	"time"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
)

// Named date presets. Every "last_N" preset ends yesterday.
const (
	PresetToday     = "today"
	PresetYesterday = "yesterday"
	PresetLast7d    = "last_7d"
	PresetLast14d   = "last_14d"
	PresetLast30d   = "last_30d"
	PresetLast90d   = "last_90d"
	PresetThisMonth = "this_month"
	PresetLastMonth = "last_month"

	// PresetLifetime is bounded to the last 30 days; providers reject or
	// time out on unbounded history.
	PresetLifetime = "lifetime"

	DefaultPreset = PresetLast30d
)

// Range is an inclusive span of UTC calendar days.
type Range struct {
	From time.Time
	To   time.Time
}

// Since is the first instant covered by r.
func (r Range) Since() time.Time { return r.From }

// Until is the last instant covered by r.
func (r Range) Until() time.Time { return r.To.AddDate(0, 0, 1).Add(-time.Second) }

// Contains reports whether t falls on one of r's days.
func (r Range) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.From) && !d.After(r.To)
}

// Days is the number of calendar days in r.
func (r Range) Days() int { return int(r.To.Sub(r.From).Hours()/24) + 1 }

func (r Range) String() string {
	return r.From.Format(model.DateLayout) + ".." + r.To.Format(model.DateLayout)
}

// ResolveRange turns request parameters into a Range. Explicit from/to wins
// over preset; an empty request resolves to DefaultPreset.
func ResolveRange(preset, from, to string, now time.Time) (Range, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from != "" || to != "" {
		if from == "" || to == "" {
			return Range{}, apperror.ValidationFailed("date_from", "date_from and date_to must be given together")
		}
		f, err := time.Parse(model.DateLayout, from)
		if err != nil {
			return Range{}, apperror.ValidationFailed("date_from", "date_from must be YYYY-MM-DD")
		}
		t, err := time.Parse(model.DateLayout, to)
		if err != nil {
			return Range{}, apperror.ValidationFailed("date_to", "date_to must be YYYY-MM-DD")
		}
		if t.Before(f) {
			return Range{}, apperror.ValidationFailed("date_to", "date_to must not be before date_from")
		}
		return Range{From: f, To: t}, nil
	}

	today := Day(now)
	lastN := func(n int) Range {
		return Range{From: today.AddDate(0, 0, -n), To: today.AddDate(0, 0, -1)}
	}

	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "", PresetLast30d, PresetLifetime:
		return lastN(30), nil
	case PresetToday:
		return Range{From: today, To: today}, nil
	case PresetYesterday:
		return lastN(1), nil
	case PresetLast7d:
		return lastN(7), nil
	case PresetLast14d:
		return lastN(14), nil
	case PresetLast90d:
		return lastN(90), nil
	case PresetThisMonth:
		return Range{From: today.AddDate(0, 0, 1-today.Day()), To: today}, nil
	case PresetLastMonth:
		first := today.AddDate(0, 0, 1-today.Day())
		return Range{From: first.AddDate(0, -1, 0), To: first.AddDate(0, 0, -1)}, nil
	default:
		return Range{}, apperror.ValidationFailed("date_preset", "unknown date preset "+preset)
	}
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Package decision turns a campaign's daily records into KILL / MAINTAIN /
// SCALE verdicts.
//
// WINDOWS:
// Records are placed on a campaign-relative day axis (first record is day 1)
// and grouped into fixed two-day slots: 1-2, 3-4, ... 27-28. Days 29, 30 and
// 31 form a single three-day window when all three are present; otherwise
// 29-30 is an ordinary pair and slots continue from 31. A slot with any day
// missing gets no verdict, so a trailing single day is held back until its
// partner arrives.
//
// RULES:
// The window starting on day 1 is judged on spend, CPC, add-to-carts and
// purchases against the market Tier. Every later window is judged on its
// margin percentage alone.
package decision

import (
	"fmt"
	"sort"
	"time"

	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/profit"
)

const (
	tripleStart = 29
	tripleEnd   = 31

	scaleMarginPct = 15
)

// Window is one evaluated group of consecutive campaign days.
type Window struct {
	StartDay  int         `json:"startDay"`
	EndDay    int         `json:"endDay"`
	From      time.Time   `json:"from"`
	To        time.Time   `json:"to"`
	Dates     []time.Time `json:"-"`
	Spend     float64     `json:"spend"`
	Clicks    int         `json:"clicks"`
	CPC       float64     `json:"cpc"`
	AddToCart int         `json:"addToCart"`
	Purchases int         `json:"purchases"`
	Revenue   float64     `json:"revenue"`
	COG       float64     `json:"cog"`
	MarginEUR float64     `json:"marginEur"`
	MarginPct float64     `json:"marginPct"`

	Decision model.Decision `json:"decision"`
	Reason   string         `json:"reason"`
}

// First reports whether w is the campaign's opening window.
func (w Window) First() bool { return w.StartDay == 1 }

// Evaluate groups records (all of one campaign) into complete windows and
// decides each one. Records need not be sorted. Incomplete windows are
// omitted from the result.
func Evaluate(records []model.DailyCampaignRecord, tier Tier) []Window {
	windows := group(records)
	for i := range windows {
		decide(&windows[i], tier)
	}
	return windows
}

// Apply writes each window's verdict onto every record of that window and
// returns the number of records changed.
func Apply(records []model.DailyCampaignRecord, windows []Window) int {
	type verdict struct {
		d      model.Decision
		reason string
	}
	byDate := make(map[string]verdict)
	for _, w := range windows {
		for _, d := range w.Dates {
			byDate[d.Format(model.DateLayout)] = verdict{w.Decision, w.Reason}
		}
	}

	changed := 0
	for i := range records {
		v, ok := byDate[records[i].Date.UTC().Format(model.DateLayout)]
		if !ok {
			continue
		}
		d := v.d
		records[i].Decision = &d
		records[i].Reason = v.reason
		changed++
	}
	return changed
}

func group(records []model.DailyCampaignRecord) []Window {
	if len(records) < 2 {
		return nil
	}

	sorted := make([]model.DailyCampaignRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	first := dayOf(sorted[0].Date)
	byDay := make(map[int]*model.DailyCampaignRecord, len(sorted))
	lastDay := 0
	for i := range sorted {
		day := int(dayOf(sorted[i].Date).Sub(first).Hours()/24) + 1
		if _, dup := byDay[day]; dup {
			continue
		}
		byDay[day] = &sorted[i]
		lastDay = max(lastDay, day)
	}

	var windows []Window
	for start := 1; start <= lastDay; {
		end := start + 1
		if start == tripleStart && byDay[tripleStart] != nil && byDay[tripleStart+1] != nil && byDay[tripleEnd] != nil {
			end = tripleEnd
		}

		var members []*model.DailyCampaignRecord
		for d := start; d <= end; d++ {
			if r := byDay[d]; r != nil {
				members = append(members, r)
			}
		}
		if len(members) == end-start+1 {
			windows = append(windows, aggregate(start, end, members))
		}
		start = end + 1
	}
	return windows
}

func aggregate(start, end int, members []*model.DailyCampaignRecord) Window {
	w := Window{StartDay: start, EndDay: end}
	var cpcSum float64
	for _, r := range members {
		w.Dates = append(w.Dates, dayOf(r.Date))
		w.Spend += profit.Finite(r.TotalSpend)
		w.Clicks += r.Clicks
		cpcSum += profit.Finite(r.CPC)
		w.AddToCart += r.AddToCart
		w.Purchases += r.Purchases

		m := profit.Compute(r.UnitsSold, r.ProductPrice, r.COG, r.TotalSpend)
		w.Revenue += m.Revenue
		w.COG += m.COG
	}
	w.From = w.Dates[0]
	w.To = w.Dates[len(w.Dates)-1]

	if w.Clicks > 0 {
		w.CPC = profit.CPC(w.Spend, w.Clicks)
	} else {
		w.CPC = profit.Finite(cpcSum / float64(len(members)))
	}

	w.MarginEUR = profit.Finite(w.Revenue - w.Spend - w.COG)
	if w.Revenue > 0 {
		w.MarginPct = profit.Finite(w.MarginEUR / w.Revenue * 100)
	}
	return w
}

func decide(w *Window, t Tier) {
	var d model.Decision
	var why string

	if w.First() {
		switch {
		case w.Spend >= t.Spend1 && w.CPC > t.CPCThreshold && w.Purchases == 0:
			d, why = model.DecisionKill, "high spend, high CPC, no conversions"
		case w.Spend >= t.Spend1 && w.Purchases >= 1:
			d, why = model.DecisionMaintain, "has at least one sale"
		case w.Spend >= t.Spend1 && w.CPC < t.CPCThreshold && w.AddToCart >= 1 && w.Spend < t.Spend2:
			d, why = model.DecisionMaintain, "cheap clicks with cart activity, within budget"
		case w.Spend >= t.Spend2 && w.Purchases == 0:
			d, why = model.DecisionKill, "spend ceiling reached with zero conversions"
		default:
			d, why = model.DecisionMaintain, "insufficient data yet"
		}
	} else {
		switch {
		case w.MarginPct > scaleMarginPct:
			d, why = model.DecisionScale, fmt.Sprintf("margin above %d%%", scaleMarginPct)
		case w.MarginPct < 0:
			d, why = model.DecisionKill, "negative margin"
		default:
			d, why = model.DecisionMaintain, "margin within hold band"
		}
	}

	w.Decision = d
	w.Reason = fmt.Sprintf("%s: %s (spend €%.2f, CPC €%.2f, margin %.2f%%, %s to %s, %s market)",
		d, why, w.Spend, w.CPC, w.MarginPct,
		w.From.Format(model.DateLayout), w.To.Format(model.DateLayout), t.Name)
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

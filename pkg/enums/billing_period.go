package enums

import (
	"slices"
	"time"
)

// BillingPeriod defines the cadence for a plan.
type BillingPeriod string

const (
	BillingPeriodWeekly    BillingPeriod = "weekly"
	BillingPeriodMonthly   BillingPeriod = "monthly"
	BillingPeriodQuarterly BillingPeriod = "quarterly"
	BillingPeriodYearly    BillingPeriod = "yearly"
	BillingPeriodOneTime   BillingPeriod = "one_time"
)

var billingPeriods = []BillingPeriod{
	BillingPeriodWeekly,
	BillingPeriodMonthly,
	BillingPeriodQuarterly,
	BillingPeriodYearly,
	BillingPeriodOneTime,
}

// periodSteps is the calendar step per recurring period as years, months, days.
var periodSteps = map[BillingPeriod][3]int{
	BillingPeriodWeekly:    {0, 0, 7},
	BillingPeriodMonthly:   {0, 1, 0},
	BillingPeriodQuarterly: {0, 3, 0},
	BillingPeriodYearly:    {1, 0, 0},
}

func (b BillingPeriod) String() string { return string(b) }

func (b BillingPeriod) IsValid() bool { return slices.Contains(billingPeriods, b) }

// IsRecurring reports whether the period renews.
func (b BillingPeriod) IsRecurring() bool {
	_, ok := periodSteps[b]
	return ok
}

// Advance returns the end of one period starting at from. The boolean is false
// for one-time plans, which never expire.
func (b BillingPeriod) Advance(from time.Time) (time.Time, bool) {
	step, ok := periodSteps[b]
	if !ok {
		return time.Time{}, false
	}
	return from.AddDate(step[0], step[1], step[2]), true
}

// Package reward scores task completion against the current telemetry
// snapshot. Everything here is a pure function of its inputs.
package reward

import "github.com/taishanglaojun/wearsync/pkg/model"

// Step, calorie and heart-rate tier thresholds. Within a category only
// the highest applicable tier counts; categories are additive.
const (
	stepTierHigh = 10000
	stepTierMid  = 5000
	stepTierLow  = 2000

	calorieTierHigh = 500
	calorieTierMid  = 300
	calorieTierLow  = 150

	hrZoneLow  = 100
	hrZoneMid  = 120
	hrZoneHigh = 160

	goalSteps    = 8000
	goalCalories = 300
)

// Bonus computes the completion bonus from daily steps, daily calories
// and the live heart rate. A heart rate of 0 means no live reading and
// scores nothing.
func Bonus(steps, calories, heartRateBPM int) int {
	bonus := 0

	switch {
	case steps >= stepTierHigh:
		bonus += 50
	case steps >= stepTierMid:
		bonus += 25
	case steps >= stepTierLow:
		bonus += 10
	}

	switch {
	case calories >= calorieTierHigh:
		bonus += 30
	case calories >= calorieTierMid:
		bonus += 20
	case calories >= calorieTierLow:
		bonus += 10
	}

	switch {
	case heartRateBPM >= hrZoneMid && heartRateBPM <= hrZoneHigh:
		bonus += 20
	case heartRateBPM >= hrZoneLow && heartRateBPM < hrZoneMid:
		bonus += 10
	}

	return bonus
}

// BonusFromMetrics scores a metrics snapshot; a nil heart rate scores
// no heart-rate tier.
func BonusFromMetrics(m model.HealthMetrics) int {
	bpm := 0
	if m.HeartRateBPM != nil {
		bpm = *m.HeartRateBPM
	}
	return Bonus(m.Steps, m.Calories, bpm)
}

// HealthGoalMet reports whether the daily goal is reached: 8000 steps
// or 300 calories, a plain disjunction rather than a weighted score.
func HealthGoalMet(steps, calories int) bool {
	return steps >= goalSteps || calories >= goalCalories
}

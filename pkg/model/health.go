package model

import "time"

// HealthMetrics is the single normalized telemetry snapshot. Daily
// totals are monotonically non-decreasing within a day; the day-boundary
// reset happens outside the engine. HeartRateBPM is nil when there is no
// live reading, including after the staleness window elapses.
//
// The sensor session manager exclusively owns the mutable record; every
// other component receives a copy.
type HealthMetrics struct {
	Steps          int       `json:"steps"`
	Calories       int       `json:"calories"`
	DistanceMeters float64   `json:"distance_meters"`
	HeartRateBPM   *int      `json:"heart_rate_bpm,omitempty"`
	ActiveMinutes  int       `json:"active_minutes"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Clone returns a deep copy safe to hand across the ownership boundary.
func (m HealthMetrics) Clone() HealthMetrics {
	out := m
	if m.HeartRateBPM != nil {
		bpm := *m.HeartRateBPM
		out.HeartRateBPM = &bpm
	}
	return out
}

// SessionState is the lifecycle state of an exercise tracking session.
type SessionState string

const (
	SessionIdle   SessionState = "IDLE"
	SessionActive SessionState = "ACTIVE"
	SessionPaused SessionState = "PAUSED"
	SessionEnded  SessionState = "ENDED"
)

// ExerciseSession is the ephemeral record of an open tracking session.
// It exists only while a session is open and is destroyed on stop; the
// running deltas are flushed into HealthMetrics at that point.
type ExerciseSession struct {
	State         SessionState `json:"state"`
	Kind          string       `json:"kind"`
	StartedAt     time.Time    `json:"started_at"`
	StepsDelta    int          `json:"steps_delta"`
	CaloriesDelta int          `json:"calories_delta"`
	DistanceDelta float64      `json:"distance_delta"`
	ActiveMinutes int          `json:"active_minutes"`
}

// SensorType identifies one telemetry data type the platform can supply.
type SensorType string

const (
	SensorSteps     SensorType = "STEPS"
	SensorCalories  SensorType = "CALORIES"
	SensorDistance  SensorType = "DISTANCE"
	SensorHeartRate SensorType = "HEART_RATE"
)

// CapabilitySet is the set of sensor types this hardware can supply.
// It may be empty; absence of a sensor is not an error.
type CapabilitySet map[SensorType]bool

// Has reports whether the capability set includes t.
func (c CapabilitySet) Has(t SensorType) bool { return c[t] }

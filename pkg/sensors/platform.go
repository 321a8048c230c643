// Package sensors manages device telemetry: passive always-on daily
// totals, session-scoped exercise tracking and heart-rate streaming,
// all normalized into one HealthMetrics snapshot under single-writer
// discipline.
package sensors

import (
	"context"
	"time"

	"github.com/taishanglaojun/wearsync/pkg/model"
)

// Reading is one sensor callback payload. Only the fields the source
// supplies are set; the manager merges field-by-field so a heart-rate
// reading never erases a separately-tracked step count. A non-nil Err
// marks an unrecoverable source failure; the manager releases the
// subscription when it sees one.
type Reading struct {
	Steps          *int
	Calories       *int
	DistanceMeters *float64
	HeartRateBPM   *int
	At             time.Time
	Err            error
}

// Subscription is a scoped sensor acquisition. Stop releases the
// underlying registration and is idempotent.
type Subscription interface {
	Stop()
}

// Platform is the device sensor boundary. Implementations deliver
// readings by invoking the registered callback from their own
// goroutines; the manager serializes all merges.
type Platform interface {
	// Capabilities reports which data types this hardware supplies.
	// An empty set is a valid answer, not an error.
	Capabilities(ctx context.Context) (model.CapabilitySet, error)
	// SubscribePassive registers for low-rate background totals.
	SubscribePassive(ctx context.Context, fn func(Reading)) (Subscription, error)
	// OpenSession acquires high-rate tracking for one exercise session.
	OpenSession(ctx context.Context, kind string, fn func(Reading)) (Subscription, error)
	// SubscribeHeartRate registers for continuous heart-rate readings.
	SubscribeHeartRate(ctx context.Context, fn func(Reading)) (Subscription, error)
}

// DailyTotals is the passive aggregate as of a moment in time. The
// day-boundary reset is external to the engine.
type DailyTotals struct {
	Steps          int       `json:"steps"`
	Calories       int       `json:"calories"`
	DistanceMeters float64   `json:"distance_meters"`
	AsOf           time.Time `json:"as_of"`
}

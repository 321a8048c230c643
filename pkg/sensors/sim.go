package sensors

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/taishanglaojun/wearsync/pkg/model"
)

// SimPlatform is a software sensor platform for hardware-free runs and
// tests. It emits plausible walking-pace passive totals, higher-rate
// session readings and a resting-range heart rate.
type SimPlatform struct {
	PassiveInterval time.Duration
	SessionInterval time.Duration
	HRInterval      time.Duration

	mu   sync.Mutex
	subs []*simSub
}

// NewSimPlatform creates a simulator with watch-like emission rates.
func NewSimPlatform() *SimPlatform {
	return &SimPlatform{
		PassiveInterval: 5 * time.Second,
		SessionInterval: time.Second,
		HRInterval:      2 * time.Second,
	}
}

// Capabilities reports every data type; the simulator supplies them all.
func (s *SimPlatform) Capabilities(ctx context.Context) (model.CapabilitySet, error) {
	return model.CapabilitySet{
		model.SensorSteps:     true,
		model.SensorCalories:  true,
		model.SensorDistance:  true,
		model.SensorHeartRate: true,
	}, nil
}

// SubscribePassive emits slow step/calorie/distance increments.
func (s *SimPlatform) SubscribePassive(ctx context.Context, fn func(Reading)) (Subscription, error) {
	return s.emitTo(fn, s.PassiveInterval, func(now time.Time) Reading {
		steps := 5 + rand.Intn(20)
		cal := rand.Intn(3)
		dist := float64(steps) * 0.7
		return Reading{Steps: &steps, Calories: &cal, DistanceMeters: &dist, At: now}
	}), nil
}

// OpenSession emits faster increments for the duration of the session.
func (s *SimPlatform) OpenSession(ctx context.Context, kind string, fn func(Reading)) (Subscription, error) {
	_ = kind
	return s.emitTo(fn, s.SessionInterval, func(now time.Time) Reading {
		steps := 20 + rand.Intn(15)
		cal := 1 + rand.Intn(2)
		dist := float64(steps) * 0.9
		return Reading{Steps: &steps, Calories: &cal, DistanceMeters: &dist, At: now}
	}), nil
}

// SubscribeHeartRate emits readings in the 58–105 bpm band.
func (s *SimPlatform) SubscribeHeartRate(ctx context.Context, fn func(Reading)) (Subscription, error) {
	return s.emitTo(fn, s.HRInterval, func(now time.Time) Reading {
		bpm := 58 + rand.Intn(48)
		return Reading{HeartRateBPM: &bpm, At: now}
	}), nil
}

func (s *SimPlatform) emitTo(fn func(Reading), interval time.Duration, gen func(time.Time) Reading) *simSub {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &simSub{cancel: cancel}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if fn != nil {
					fn(gen(now))
				}
			}
		}
	}()
	return sub
}

// Shutdown stops every outstanding subscription.
func (s *SimPlatform) Shutdown() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Stop()
	}
}

type simSub struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (s *simSub) Stop() {
	s.once.Do(s.cancel)
}

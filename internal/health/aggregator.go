// Package health implements the composite health aggregator (§4.11,
// supplementing §7's escalation rule): a consecutive-failure counter per
// named component that escalates to an alert at two failures and flips a
// global system-stress flag at three, clearing on the next success.
// Grounded on monitoring/alert_health_checker.py's check-then-classify
// shape, translated from its per-run report into a live per-component
// counter the orchestrator updates on every cycle.
package health

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/external"
	"github.com/driftscout/polycopy/pkg/types"
)

const (
	degradedThreshold     = 2
	systemStressThreshold = 3
)

var componentHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "polycopy_component_healthy",
	Help: "1 if the named component's last check succeeded, 0 otherwise.",
}, []string{"component"})

type componentState struct {
	consecutiveFailures int
	lastError           string
	status              types.HealthStatus
	updatedAt           time.Time
	alertedAtDegraded   bool
}

// Aggregator tracks per-component health and derives the global
// SystemStress flag consumed by internal/quality.Engine.Combine and
// internal/sizing.Engine.ComputeSize.
type Aggregator struct {
	logger  *zap.Logger
	alerter external.Alerter

	mu         sync.Mutex
	components map[string]*componentState
}

// New creates an Aggregator.
func New(logger *zap.Logger, alerter external.Alerter) *Aggregator {
	return &Aggregator{
		logger:     logger,
		alerter:    alerter,
		components: make(map[string]*componentState),
	}
}

func (a *Aggregator) stateFor(component string) *componentState {
	st, ok := a.components[component]
	if !ok {
		st = &componentState{status: types.HealthHealthy, updatedAt: time.Now()}
		a.components[component] = st
	}
	return st
}

// RecordFailure registers one failed check for component. On the
// transition to exactly two consecutive failures it sends a High alert
// (once, until the next success); at three it marks the component
// SystemStress, which IsSystemStress then reports globally.
func (a *Aggregator) RecordFailure(ctx context.Context, component string, err error) {
	a.mu.Lock()
	st := a.stateFor(component)
	st.consecutiveFailures++
	if err != nil {
		st.lastError = err.Error()
	}
	st.updatedAt = time.Now()

	switch {
	case st.consecutiveFailures >= systemStressThreshold:
		st.status = types.HealthSystemStress
	case st.consecutiveFailures >= degradedThreshold:
		st.status = types.HealthDegraded
	}

	shouldAlert := st.consecutiveFailures == degradedThreshold && !st.alertedAtDegraded
	if shouldAlert {
		st.alertedAtDegraded = true
	}
	failures := st.consecutiveFailures
	lastErr := st.lastError
	a.mu.Unlock()

	componentHealthy.WithLabelValues(component).Set(0)

	if shouldAlert && a.alerter != nil {
		_ = a.alerter.SendAlert(ctx, external.AlertHigh,
			component+" has failed "+strconv.Itoa(failures)+" consecutive checks: "+lastErr)
	}
	a.logger.Warn("component health check failed",
		zap.String("component", component),
		zap.Int("consecutive_failures", failures),
		zap.Error(err))
}

// RecordSuccess clears component's failure streak, returning its status to
// Healthy and clearing the system-stress flag this component may have set.
func (a *Aggregator) RecordSuccess(component string) {
	a.mu.Lock()
	st := a.stateFor(component)
	st.consecutiveFailures = 0
	st.lastError = ""
	st.status = types.HealthHealthy
	st.updatedAt = time.Now()
	st.alertedAtDegraded = false
	a.mu.Unlock()

	componentHealthy.WithLabelValues(component).Set(1)
}

// IsSystemStress reports whether any tracked component currently has three
// or more consecutive failures.
func (a *Aggregator) IsSystemStress() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, st := range a.components {
		if st.status == types.HealthSystemStress {
			return true
		}
	}
	return false
}

// Report returns the current HealthReport for component, or a zero-value
// Healthy report if it has never been recorded.
func (a *Aggregator) Report(component string) types.HealthReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.components[component]
	if !ok {
		return types.HealthReport{Component: component, Status: types.HealthHealthy, UpdatedAt: time.Now()}
	}
	return types.HealthReport{
		Component:           component,
		ConsecutiveFailures: st.consecutiveFailures,
		LastError:           st.lastError,
		Status:              st.status,
		UpdatedAt:           st.updatedAt,
	}
}

// Reports returns a HealthReport for every component seen so far.
func (a *Aggregator) Reports() []types.HealthReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.HealthReport, 0, len(a.components))
	for name, st := range a.components {
		out = append(out, types.HealthReport{
			Component:           name,
			ConsecutiveFailures: st.consecutiveFailures,
			LastError:           st.lastError,
			Status:              st.status,
			UpdatedAt:           st.updatedAt,
		})
	}
	return out
}

// Package health tracks the health of the pieces a mount depends on (the
// backing root and the FUSE session) and serves it as JSON.
package health

import (
	"context"
	"encoding/json"
	stderr "errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/passfs/passfs/pkg/errors"
)

// HealthState represents the health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates recent checks failed but the component may recover
	StateDegraded

	// StateReadOnly indicates reads still work but writes are refused
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state by name.
func (s HealthState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before a component is degraded
	ErrorThreshold int `yaml:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before it is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold"`

	// HealthCheckInterval is the interval for periodic checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       1,
		UnavailableThreshold: 3,
		HealthCheckInterval:  30 * time.Second,
	}
}

// Tracker tracks the health of multiple components and determines overall health
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// RegisterComponent registers a new component as healthy
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := time.Now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
		}
	}
}

// OnStateChange registers a callback invoked after every state transition
func (t *Tracker) OnStateChange(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// RecordSuccess records a passing check. A single success restores a
// component to healthy.
func (t *Tracker) RecordSuccess(component string) {
	t.record(component, nil)
}

// RecordError records a failing check for a component
func (t *Tracker) RecordError(component string, err error) {
	if err == nil {
		err = fmt.Errorf("%s check failed", component)
	}
	t.record(component, err)
}

func (t *Tracker) record(component string, err error) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()

	newState := StateHealthy
	if err != nil {
		health.ConsecutiveErrors++
		health.LastErrorMessage = err.Error()
		switch {
		case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
			newState = StateUnavailable
		case health.ConsecutiveErrors >= t.config.ErrorThreshold:
			if isWriteError(err) {
				newState = StateReadOnly
			} else {
				newState = StateDegraded
			}
		default:
			newState = oldState
		}
	} else {
		health.ConsecutiveErrors = 0
		health.LastErrorMessage = ""
	}

	if newState == oldState {
		t.mu.Unlock()
		return
	}
	health.State = newState
	health.LastStateChange = health.LastHealthCheck
	callbacks := append([]StateChangeCallback(nil), t.callbacks...)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(component, oldState, newState, err)
	}
}

// GetState returns the current health state of a component
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetAllComponents returns a copy of every registered component, sorted by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(t.components))
	for _, health := range t.components {
		result = append(result, *health)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst state of any component
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, health := range t.components {
		if health.State > overall {
			overall = health.State
		}
	}
	return overall
}

// isWriteError reports errors that leave reads working
func isWriteError(err error) bool {
	var perr *errors.PassFSError
	if stderr.As(err, &perr) {
		return perr.Code == errors.ErrCodePermissionDenied
	}
	return false
}

// CheckAll runs checkFn once for every registered component.
func (t *Tracker) CheckAll(checkFn func(component string) error) {
	t.mu.RLock()
	components := make([]string, 0, len(t.components))
	for name := range t.components {
		components = append(components, name)
	}
	t.mu.RUnlock()

	for _, component := range components {
		if err := checkFn(component); err != nil {
			t.RecordError(component, err)
		} else {
			t.RecordSuccess(component)
		}
	}
}

// StartHealthChecks runs CheckAll every HealthCheckInterval until ctx is done
func (t *Tracker) StartHealthChecks(ctx context.Context, checkFn func(component string) error) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckAll(checkFn)
		}
	}
}

// Report is the body served by Handler.
type Report struct {
	Status     HealthState       `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// Handler serves the current Report. Unavailable components turn the
// response into a 503.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := Report{
			Status:     t.GetOverallHealth(),
			Components: t.GetAllComponents(),
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StateUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}

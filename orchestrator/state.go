package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"filingbot/discovery"
	"filingbot/dispatch"
)

// State is the orchestrator's run state.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateDispatching State = "dispatching"
	StateError       State = "error"
)

// LogEntry is one line of the in-memory run log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// RunSummary describes one discovery and dispatch run.
type RunSummary struct {
	ID         string            `json:"id"`
	Plan       string            `json:"plan"`
	Trigger    string            `json:"trigger"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Sources    []discovery.Stats `json:"sources"`
	Dispatch   dispatch.Summary  `json:"dispatch"`
	Killed     bool              `json:"killed"`
	Error      string            `json:"error,omitempty"`
}

// Status is the JSON snapshot served by the operator API.
type Status struct {
	State       State        `json:"state"`
	CurrentPlan string       `json:"current_plan,omitempty"`
	Ingest      bool         `json:"ingest_enabled"`
	Logs        []LogEntry   `json:"logs"`
	Runs        []RunSummary `json:"runs"`
	Error       string       `json:"error,omitempty"`
}

// Manager holds the orchestrator state with thread-safe access
type Manager struct {
	mu sync.RWMutex

	currentState State
	currentPlan  string
	lastErr      error

	// Ring buffers
	logs    []LogEntry
	maxLogs int
	runs    []RunSummary
	maxRuns int
}

// NewManager creates a new state manager
func NewManager() *Manager {
	return &Manager{
		currentState: StateIdle,
		logs:         make([]LogEntry, 0),
		maxLogs:      50,
		maxRuns:      20,
	}
}

// AddLog adds a log entry (thread-safe)
func (m *Manager) AddLog(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLogLocked(message)
}

func (m *Manager) addLogLocked(message string) {
	m.logs = append(m.logs, LogEntry{Timestamp: time.Now(), Message: message})
	if len(m.logs) > m.maxLogs {
		m.logs = m.logs[len(m.logs)-m.maxLogs:]
	}
}

// Begin moves to the discovering state for plan.
func (m *Manager) Begin(plan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = StateDiscovering
	m.currentPlan = plan
	m.lastErr = nil
	m.addLogLocked(fmt.Sprintf("Run %s started", plan))
}

// SetState sets the current state (thread-safe)
func (m *Manager) SetState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentState = state
}

// GetState gets the current state (thread-safe)
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// Finish records a completed run and returns to idle, or to the error state
// when err is set.
func (m *Manager) Finish(summary RunSummary, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = append(m.runs, summary)
	if len(m.runs) > m.maxRuns {
		m.runs = m.runs[len(m.runs)-m.maxRuns:]
	}
	m.currentPlan = ""
	if err != nil {
		m.currentState = StateError
		m.lastErr = err
		m.addLogLocked(fmt.Sprintf("Error: %v", err))
		return
	}
	m.currentState = StateIdle
	m.addLogLocked(fmt.Sprintf("Run %s finished: %d enqueued, %d errors",
		summary.Plan, summary.Dispatch.Enqueued, summary.Dispatch.Errors))
}

// Runs returns the recent run summaries, oldest first.
func (m *Manager) Runs() []RunSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RunSummary{}, m.runs...)
}

// GetStatus returns a snapshot of the current state (thread-safe)
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		State:       m.currentState,
		CurrentPlan: m.currentPlan,
		Logs:        append([]LogEntry{}, m.logs...),
		Runs:        append([]RunSummary{}, m.runs...),
	}
	if m.lastErr != nil {
		s.Error = m.lastErr.Error()
	}
	return s
}

// Package orchestrator runs discovery plans on a schedule: each run
// enumerates the plan's sources and hands the candidates to the dispatcher.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"filingbot/discovery"
	"filingbot/dispatch"
	"filingbot/types"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Run triggers.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is
	// still going.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrUnknownPlan is returned for a plan name that was never registered.
	ErrUnknownPlan = errors.New("unknown plan")
)

// Plan is a named set of sources polled over one window.
type Plan struct {
	Name string
	// Schedule is a cron expression. Empty plans only run on demand.
	Schedule string
	Sources  []discovery.Source
	Window   time.Duration
	Forms    []string
}

// Dispatcher enqueues candidates.
type Dispatcher interface {
	Dispatch(ctx context.Context, candidates []types.FilingCandidate) (dispatch.Summary, error)
}

// Switch reports whether ingestion may run.
type Switch interface {
	Enabled() bool
}

// Orchestrator owns the plans, the scheduler and the run state.
type Orchestrator struct {
	dispatcher Dispatcher
	kill       Switch
	state      *Manager
	plans      map[string]Plan
	order      []string

	cron  *cron.Cron
	runMu sync.Mutex
	now   func() time.Time
}

// New creates an orchestrator for plans.
func New(d Dispatcher, kill Switch, plans ...Plan) *Orchestrator {
	o := &Orchestrator{
		dispatcher: d,
		kill:       kill,
		state:      NewManager(),
		plans:      make(map[string]Plan, len(plans)),
		cron:       cron.New(),
		now:        time.Now,
	}
	for _, p := range plans {
		if _, dup := o.plans[p.Name]; !dup {
			o.order = append(o.order, p.Name)
		}
		o.plans[p.Name] = p
	}
	return o
}

// State exposes the run state manager.
func (o *Orchestrator) State() *Manager { return o.state }

// Plans returns the plan names in registration order.
func (o *Orchestrator) Plans() []string { return append([]string(nil), o.order...) }

// Status returns a snapshot including the kill switch.
func (o *Orchestrator) Status() Status {
	s := o.state.GetStatus()
	s.Ingest = o.kill == nil || o.kill.Enabled()
	return s
}

// StartCron registers every scheduled plan and starts the scheduler.
func (o *Orchestrator) StartCron() error {
	for _, name := range o.order {
		plan := o.plans[name]
		if plan.Schedule == "" {
			continue
		}
		if _, err := o.cron.AddFunc(plan.Schedule, func() {
			log.Printf("Cron triggered: starting %s run", plan.Name)
			if _, err := o.RunPlan(context.Background(), plan.Name, TriggerCron); err != nil {
				log.Printf("Cron %s run error: %v", plan.Name, err)
			}
		}); err != nil {
			return fmt.Errorf("failed to add cron job for %s: %w", plan.Name, err)
		}
		log.Printf("Cron job %s scheduled: %s", plan.Name, plan.Schedule)
	}
	o.cron.Start()
	return nil
}

// StopCron stops the scheduler and waits for a running job, or for ctx.
func (o *Orchestrator) StopCron(ctx context.Context) error {
	done := o.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunPlan runs one plan now. Only one run executes at a time; a second
// request fails with ErrRunInProgress rather than queueing.
func (o *Orchestrator) RunPlan(ctx context.Context, name, trigger string) (RunSummary, error) {
	plan, ok := o.plans[name]
	if !ok {
		return RunSummary{}, fmt.Errorf("%w: %q", ErrUnknownPlan, name)
	}
	if !o.runMu.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer o.runMu.Unlock()

	summary := RunSummary{
		ID:        uuid.NewString(),
		Plan:      plan.Name,
		Trigger:   trigger,
		StartedAt: o.now().UTC(),
	}

	if o.kill != nil && !o.kill.Enabled() {
		summary.Killed = true
		summary.FinishedAt = summary.StartedAt
		o.state.AddLog(fmt.Sprintf("Run %s skipped: kill switch is off", plan.Name))
		o.state.Finish(summary, nil)
		return summary, dispatch.ErrKillSwitch
	}

	o.state.Begin(plan.Name)
	candidates, err := o.discover(ctx, plan, &summary)
	if err == nil {
		o.state.SetState(StateDispatching)
		o.state.AddLog(fmt.Sprintf("Dispatching %d candidates", len(candidates)))
		summary.Dispatch, err = o.dispatcher.Dispatch(ctx, candidates)
		summary.Killed = summary.Dispatch.Killed
		if errors.Is(err, dispatch.ErrKillSwitch) {
			// Flipped between discovery and dispatch.
			err = nil
		}
	}

	summary.FinishedAt = o.now().UTC()
	if err != nil {
		summary.Error = err.Error()
	}
	o.state.Finish(summary, err)
	return summary, err
}

// discover runs every source of plan over the plan's window. A source that
// fails outright is recorded and skipped; the run fails only when every
// source did.
func (o *Orchestrator) discover(ctx context.Context, plan Plan, summary *RunSummary) ([]types.FilingCandidate, error) {
	window := discovery.WindowFor(o.now(), plan.Window, plan.Forms...)
	if plan.Window <= 0 {
		window.Since = time.Time{}
	}

	var (
		all  []types.FilingCandidate
		errs []error
	)
	for _, src := range plan.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidates, stats, err := discovery.Run(ctx, src, window)
		summary.Sources = append(summary.Sources, stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		o.state.AddLog(fmt.Sprintf("%s: %d candidates", src.Name(), len(candidates)))
		all = append(all, candidates...)
	}
	if len(plan.Sources) > 0 && len(errs) == len(plan.Sources) {
		return nil, fmt.Errorf("all sources failed: %w", errors.Join(errs...))
	}
	return all, nil
}

// Package agent runs the worker loop for a single agent: poll for a task,
// hand it to the executor, report the outcome.
package agent

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/heartbeat"
	"github.com/ShayCichocki/dispatch/internal/scheduler"
	"github.com/ShayCichocki/dispatch/internal/store"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

// Executor is the worker-spawning collaborator that actually runs task
// payloads. The core has no visibility into how execution happens; it only
// receives a success or failure.
type Executor interface {
	Execute(ctx context.Context, task models.Task) error
}

// Worker polls the scheduler for work on behalf of one agent. The idle poll
// backs off exponentially and resets as soon as a task is claimed, so a busy
// fleet stays responsive without hammering the store when idle.
type Worker struct {
	agent    models.Agent
	sched    *scheduler.Scheduler
	store    *store.Store
	tracker  *heartbeat.Tracker
	executor Executor
	clk      clock.Clock

	// minPoll and maxPoll bound the idle backoff.
	minPoll time.Duration
	maxPoll time.Duration
}

// NewWorker creates a Worker for the given agent.
func NewWorker(a models.Agent, sched *scheduler.Scheduler, st *store.Store, tracker *heartbeat.Tracker, executor Executor, clk clock.Clock) *Worker {
	return &Worker{
		agent:    a,
		sched:    sched,
		store:    st,
		tracker:  tracker,
		executor: executor,
		clk:      clk,
		minPoll:  250 * time.Millisecond,
		maxPoll:  5 * time.Second,
	}
}

// Run polls for tasks until the context is cancelled. An empty poll is a
// normal outcome, not an error; the worker just waits and re-evaluates.
func (w *Worker) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.minPoll
	b.MaxInterval = w.maxPoll
	b.MaxElapsedTime = 0 // poll forever

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		task := w.poll()
		if task == nil {
			wait := b.NextBackOff()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		b.Reset()
		w.execute(ctx, *task)
	}
}

// poll asks the scheduler for the next task across the agent's capabilities.
func (w *Worker) poll() *models.Task {
	task, err := w.sched.NextTask(w.agent.ID, w.agent.Capabilities)
	if err != nil {
		log.Printf("[worker %s] next task: %v", w.agent.ID, err)
		return nil
	}
	if task != nil {
		// A successful claim is the functional liveness pulse.
		w.stampFunctional()
	}
	return task
}

// execute hands the payload to the executor and reports the outcome.
func (w *Worker) execute(ctx context.Context, task models.Task) {
	err := w.executor.Execute(ctx, task)
	if err != nil {
		log.Printf("[worker %s] task %s failed: %v", w.agent.ID, task.ID, err)
		if ferr := w.store.Fail(task.ID, w.agent.ID, err.Error()); ferr != nil {
			// The task may have been force-released while we were running.
			log.Printf("[worker %s] report failure for %s: %v", w.agent.ID, task.ID, ferr)
		}
		return
	}

	if cerr := w.store.Complete(task.ID, w.agent.ID); cerr != nil {
		log.Printf("[worker %s] report completion for %s: %v", w.agent.ID, task.ID, cerr)
		return
	}
	w.stampFunctional()
}

// stampFunctional records the functional heartbeat for this agent. Only
// successful claim and complete operations touch this channel.
func (w *Worker) stampFunctional() {
	if err := w.tracker.Record(w.agent.ID, models.ChannelFunctional, w.clk.Now()); err != nil {
		log.Printf("[worker %s] functional heartbeat: %v", w.agent.ID, err)
	}
}

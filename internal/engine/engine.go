// Package engine coordinates policy, the run registry, the process
// runner and the script evaluator for agent runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lightangel1412/reconness/internal/log"
	"github.com/lightangel1412/reconness/internal/model"
	"github.com/lightangel1412/reconness/internal/policy"
	"github.com/lightangel1412/reconness/internal/registry"
	"github.com/lightangel1412/reconness/internal/runner"
	"github.com/lightangel1412/reconness/internal/script"
)

// Directory resolves entity names to read-only snapshots. The engine
// never mutates what it gets back.
type Directory interface {
	Target(ctx context.Context, name string) (*model.Target, error)
	Agent(ctx context.Context, name string) (*model.Agent, error)
}

// Sink receives the record of every run that reached a terminal
// status.
type Sink interface {
	SaveRun(ctx context.Context, rec model.RunRecord) error
}

// Engine is the agent execution façade. Run is fire-and-forget: it
// returns once the run is admitted, completion is delivered to the
// Sink. One Engine instance governs one process's concurrent runs.
type Engine struct {
	dir    Directory
	sink   Sink
	reg    *registry.Registry
	runner *runner.Runner
	eval   *script.Evaluator
	wg     sync.WaitGroup
}

func New(dir Directory, sink Sink) *Engine {
	return &Engine{
		dir:    dir,
		sink:   sink,
		reg:    registry.New(),
		runner: runner.New(),
		eval:   script.NewEvaluator(),
	}
}

// resolve maps names to entity snapshots, wrapping model.ErrNotFound
// with the entity that was missing.
func (e *Engine) resolve(ctx context.Context, targetName, subdomainName, agentName string) (*model.Target, *model.Subdomain, *model.Agent, error) {
	target, err := e.dir.Target(ctx, targetName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("target %q: %w", targetName, err)
	}
	agent, err := e.dir.Agent(ctx, agentName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("agent %q: %w", agentName, err)
	}
	var subdomain *model.Subdomain
	if subdomainName != "" {
		if subdomain = target.Subdomain(subdomainName); subdomain == nil {
			return nil, nil, nil, fmt.Errorf("subdomain %q: %w", subdomainName, model.ErrNotFound)
		}
	}
	return target, subdomain, agent, nil
}

// Run admits one agent run against target (or one of its subdomains
// when subdomainName is non-empty) and returns without waiting for it:
//
//   - model.ErrNotFound — an entity name did not resolve
//   - model.ErrDenied — the policy gate rejected the run; unwraps to
//     the specific reason
//   - model.ErrAlreadyRunning — the slot is taken, no second process
//     is spawned
//   - nil — accepted; the run proceeds on its own goroutine and its
//     record reaches the Sink after the terminal status
//
// The run keeps its own snapshot of the agent's command and script:
// editing the agent mid-flight does not affect it.
func (e *Engine) Run(ctx context.Context, targetName, subdomainName, agentName string) error {
	target, subdomain, agent, err := e.resolve(ctx, targetName, subdomainName, agentName)
	if err != nil {
		return err
	}

	if err := policy.Evaluate(agent, target, subdomain); err != nil {
		return err
	}

	key := model.RunKey{Target: target.Name, Subdomain: subdomainName, Agent: agent.Name}
	tc := runner.Context{Target: target.Name, Subdomain: subdomainName}
	command, source := agent.Command, agent.Script

	// the run outlives the request; only Signal cancels it
	runCtx := log.RunAttrs(context.WithoutCancel(ctx), key)

	handle, err := e.reg.Reserve(runCtx, key)
	if err != nil {
		return err // model.ErrAlreadyRunning
	}

	e.wg.Add(1)
	go e.execute(runCtx, handle, command, source, tc)
	return nil
}

func (e *Engine) execute(ctx context.Context, h *registry.Handle, command, source string, tc runner.Context) {
	key := h.Key()

	defer e.wg.Done()
	defer e.reg.Release(key)
	defer func() {
		// a hostile script or runner bug must not take the engine down
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "run panicked", "panic", r)
		}
	}()

	status := e.runner.Execute(h.Context(), h, command, tc)

	rec := model.RunRecord{
		ID:      uuid.NewString(),
		Key:     key,
		Status:  status,
		Output:  h.Lines(),
		Started: h.Started(),
	}

	// evaluation runs under its own context so Stop can interrupt a
	// runaway script and still free the slot
	result, err := e.eval.Evaluate(h.EvalContext(), source, h.Output())
	switch {
	case err == nil:
		rec.Result = result
	default:
		var serr *script.Error
		if errors.As(err, &serr) {
			rec.ScriptErr = serr.Message
		} else {
			rec.ScriptErr = err.Error()
		}
		slog.WarnContext(ctx, "script evaluation failed", "error", err)
	}
	rec.Stopped = time.Now().UTC()

	if err := e.sink.SaveRun(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "persisting run record", "error", err)
	}
	slog.InfoContext(ctx, "run finished", "status", string(status), "lines", len(rec.Output))
}

// RunAllSubdomains fans an agent out over every subdomain of a target.
// Each subdomain is its own RunKey: gated, conflict-checked and
// executed independently. Returns how many runs were accepted; denials
// and conflicts are skipped, not errors.
func (e *Engine) RunAllSubdomains(ctx context.Context, targetName, agentName string) (int, error) {
	target, _, _, err := e.resolve(ctx, targetName, "", agentName)
	if err != nil {
		return 0, err
	}

	var (
		mu       sync.Mutex
		accepted int
	)
	g := new(errgroup.Group)
	g.SetLimit(8)
	for _, subdomain := range target.Subdomains {
		g.Go(func() error {
			err := e.Run(ctx, targetName, subdomain.Name, agentName)
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
				return nil
			case errors.Is(err, model.ErrDenied), errors.Is(err, model.ErrAlreadyRunning):
				slog.DebugContext(ctx, "subdomain skipped", "subdomain", subdomain.Name, "reason", err)
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return accepted, err
	}
	return accepted, nil
}

// Stop requests cooperative cancellation of the run owning the key.
// Best-effort: it returns before the process has necessarily exited.
// A run already past its process phase has its script evaluation
// interrupted instead, so Stop always frees the slot eventually.
// Returns model.ErrNotRunning when no such run is active and
// model.ErrNotFound when a name does not resolve.
func (e *Engine) Stop(ctx context.Context, targetName, subdomainName, agentName string) error {
	target, _, agent, err := e.resolve(ctx, targetName, subdomainName, agentName)
	if err != nil {
		return err
	}
	key := model.RunKey{Target: target.Name, Subdomain: subdomainName, Agent: agent.Name}
	return e.reg.Signal(key)
}

// Debug evaluates a script against sample output. It never touches the
// registry or spawns a process; repeated calls with equal inputs give
// equal results. A script failure is returned as *script.Error with
// the script's own message.
func (e *Engine) Debug(ctx context.Context, sampleOutput, source string) (model.ScriptOutput, error) {
	return e.eval.Evaluate(ctx, source, sampleOutput)
}

// Active returns the keys of in-flight runs.
func (e *Engine) Active() []model.RunKey {
	return e.reg.Active()
}

// Wait blocks until every admitted run delivered its record. Used on
// shutdown and by tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

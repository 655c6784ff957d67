// Package registry tracks in-flight agent runs by their RunKey and
// guarantees at most one active run per key.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lightangel1412/reconness/internal/model"
)

// Registry owns the set of active run handles. Construct one per
// engine; there is no package-level instance.
type Registry struct {
	mu      sync.Mutex
	handles map[model.RunKey]*Handle
}

func New() *Registry {
	return &Registry{
		handles: make(map[model.RunKey]*Handle),
	}
}

// Reserve atomically claims the slot for key and returns its handle.
// The handle's context derives from ctx and is cancelled by Signal.
// Returns model.ErrAlreadyRunning when the slot is taken.
func (r *Registry) Reserve(ctx context.Context, key model.RunKey) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[key]; ok {
		return nil, model.ErrAlreadyRunning
	}

	hctx, cancel := context.WithCancel(ctx)
	ectx, ecancel := context.WithCancel(ctx)
	h := &Handle{
		key:        key,
		ctx:        hctx,
		cancel:     cancel,
		evalCtx:    ectx,
		evalCancel: ecancel,
		started:    time.Now().UTC(),
	}
	r.handles[key] = h
	return h, nil
}

// Lookup returns the active handle for key, if any.
func (r *Registry) Lookup(key model.RunKey) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	return h, ok
}

// Release frees the slot for key. Safe to call for an absent key.
// Always cancels the handle's contexts so nothing derived from them
// leaks.
func (r *Registry) Release(key model.RunKey) {
	r.mu.Lock()
	h, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()

	if ok {
		h.cancel()
		h.evalCancel()
	}
}

// Signal requests cooperative cancellation of the run owning key.
// It does not wait for the run to finish. Returns model.ErrNotRunning
// when no run owns the key.
//
// Signal is staged: while the process is alive only the process
// context is cancelled, so a stopped run still evaluates its partial
// output. Once the process phase is over (or on a repeated Signal) the
// evaluation context is cancelled too, so a run stuck in its script
// can always be unwedged.
func (r *Registry) Signal(key model.RunKey) error {
	r.mu.Lock()
	h, ok := r.handles[key]
	r.mu.Unlock()

	if !ok {
		return model.ErrNotRunning
	}
	h.signal()
	return nil
}

// Active returns the keys of all in-flight runs.
func (r *Registry) Active() []model.RunKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]model.RunKey, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	return keys
}

// Handle is the process-level state of one active run: its key, the
// cancellation contexts and the output accumulator. Created by
// Reserve, destroyed by Release.
type Handle struct {
	key        model.RunKey
	ctx        context.Context
	cancel     context.CancelFunc
	evalCtx    context.Context
	evalCancel context.CancelFunc
	started    time.Time

	mu     sync.Mutex
	lines  []string
	sealed bool
}

func (h *Handle) Key() model.RunKey { return h.key }

// Context governs the process phase; it is cancelled by
// Registry.Signal or Release.
func (h *Handle) Context() context.Context { return h.ctx }

// EvalContext governs script evaluation after the process exited. It
// does not derive from Context, so a cancelled run can still evaluate
// its partial output; Signal cancels it once the process phase is
// over.
func (h *Handle) EvalContext() context.Context { return h.evalCtx }

func (h *Handle) signal() {
	h.mu.Lock()
	sealed := h.sealed
	h.mu.Unlock()
	if sealed || h.ctx.Err() != nil {
		h.evalCancel()
	}
	h.cancel()
}

func (h *Handle) Started() time.Time { return h.started }

// Append adds one output line. No-op once the handle is sealed, so the
// accumulator is immutable after the run completed.
func (h *Handle) Append(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return
	}
	h.lines = append(h.lines, line)
}

// Seal freezes the accumulator.
func (h *Handle) Seal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sealed = true
}

// Lines returns a copy of the accumulated output lines.
func (h *Handle) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

// Output returns the accumulated output as one newline-joined string.
func (h *Handle) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.lines, "\n")
}

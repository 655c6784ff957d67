// Package store is the in-memory persistence side of the engine: it
// resolves entities for the engine's Directory and merges run records
// arriving on the Sink back into the target graph.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lightangel1412/reconness/internal/model"
)

type Store struct {
	mu      sync.RWMutex
	targets map[string]*model.Target
	agents  map[string]*model.Agent
	runs    []model.RunRecord
}

func New() *Store {
	return &Store{
		targets: make(map[string]*model.Target),
		agents:  make(map[string]*model.Agent),
	}
}

// FromConfig seeds a store with the agents and targets a config
// declares. Call cfg.ResolveScripts first when scriptFile is used.
func FromConfig(cfg model.Config) (*Store, error) {
	s := New()
	for _, a := range cfg.Agents {
		agent := model.Agent{
			Name:              a.Name,
			Command:           a.Command,
			Script:            a.Script,
			OnlyIfTargetAlive: deref(a.OnlyIfTargetAlive),
			OnlyIfIsAlive:     deref(a.OnlyIfIsAlive),
			SkipIfRanBefore:   deref(a.SkipIfRanBefore),
			Categories:        a.Categories,
		}
		if err := s.AddAgent(agent); err != nil {
			return nil, err
		}
	}
	for _, t := range cfg.Targets {
		alive := true
		if t.IsAlive != nil {
			alive = *t.IsAlive
		}
		if err := s.AddTarget(t.Name, alive, t.Subdomains...); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func deref(b *bool) bool {
	return b != nil && *b
}

func (s *Store) AddTarget(name string, alive bool, subdomains ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[name]; ok {
		return fmt.Errorf("target %s already exists", name)
	}
	t := &model.Target{Name: name, IsAlive: alive}
	for _, sub := range subdomains {
		t.Subdomains = append(t.Subdomains, &model.Subdomain{Name: sub})
	}
	s.targets[name] = t
	return nil
}

func (s *Store) AddAgent(agent model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.Name]; ok {
		return fmt.Errorf("agent %s already exists", agent.Name)
	}
	agent.Categories = normalizeCategories(agent.Categories)
	s.agents[agent.Name] = &agent
	return nil
}

// UpdateAgent replaces the agent's command, script, policy flags and
// categories wholesale. In-flight runs keep the snapshot they took at
// start and are not affected.
func (s *Store) UpdateAgent(name string, upd model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[name]; !ok {
		return fmt.Errorf("agent %q: %w", name, model.ErrNotFound)
	}
	upd.Name = name
	upd.Categories = normalizeCategories(upd.Categories)
	s.agents[name] = &upd
	return nil
}

// SetTargetAlive updates target liveness, which the engine never
// computes itself.
func (s *Store) SetTargetAlive(name string, alive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[name]
	if !ok {
		return fmt.Errorf("target %q: %w", name, model.ErrNotFound)
	}
	t.IsAlive = alive
	return nil
}

// Target implements engine.Directory. The returned value is a deep
// copy: a snapshot the caller may keep without racing later merges.
func (s *Store) Target(_ context.Context, name string) (*model.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneTarget(t), nil
}

// Agent implements engine.Directory, returning a copy.
func (s *Store) Agent(_ context.Context, name string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	clone := *a
	clone.Categories = append([]string(nil), a.Categories...)
	return &clone, nil
}

// SaveRun implements engine.Sink. It appends the record to the run
// history, marks ran-before for successful runs, and merges the script
// result into the target graph: a "subdomain" value grows the target,
// "ip", "isAlive", "hasHttpOpen" and "note" update the scoped
// subdomain.
func (s *Store) SaveRun(_ context.Context, rec model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, rec)

	t, ok := s.targets[rec.Key.Target]
	if !ok {
		// target was removed mid-run; the history line is enough
		return nil
	}

	if rec.Status == model.StatusSuccess {
		markRan(t, rec.Key)
	}

	if rec.ScriptErr != "" || rec.Result.Empty() {
		return nil
	}
	mergeResult(t, rec.Key, rec.Result)
	return nil
}

func markRan(t *model.Target, key model.RunKey) {
	if key.Subdomain == "" {
		if !t.HasRun(key.Agent) {
			t.AgentsRan = append(t.AgentsRan, key.Agent)
		}
		return
	}
	if sub := t.Subdomain(key.Subdomain); sub != nil && !sub.HasRun(key.Agent) {
		sub.AgentsRan = append(sub.AgentsRan, key.Agent)
	}
}

func mergeResult(t *model.Target, key model.RunKey, out model.ScriptOutput) {
	// a discovered subdomain becomes the scope for the other values
	scope := t.Subdomain(key.Subdomain)
	if name := out.String("subdomain"); name != "" && name != t.Name {
		if found := t.Subdomain(name); found != nil {
			scope = found
		} else {
			scope = &model.Subdomain{Name: name}
			t.Subdomains = append(t.Subdomains, scope)
		}
	}
	if scope == nil {
		return
	}

	if ip := out.String("ip"); ip != "" {
		scope.IP = ip
	}
	if alive, ok := out.Bool("isAlive"); ok {
		scope.IsAlive = alive
	}
	if open, ok := out.Bool("hasHttpOpen"); ok {
		scope.HasHTTPOpen = open
	}
	if note := out.String("note"); note != "" {
		scope.Notes = append(scope.Notes, note)
	}
}

// Runs returns a copy of the run history, oldest first.
func (s *Store) Runs() []model.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RunRecord(nil), s.runs...)
}

// Targets lists target names, sorted.
func (s *Store) Targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cloneTarget(t *model.Target) *model.Target {
	clone := &model.Target{
		Name:      t.Name,
		IsAlive:   t.IsAlive,
		AgentsRan: append([]string(nil), t.AgentsRan...),
	}
	for _, sub := range t.Subdomains {
		cs := *sub
		cs.Notes = append([]string(nil), sub.Notes...)
		cs.AgentsRan = append([]string(nil), sub.AgentsRan...)
		clone.Subdomains = append(clone.Subdomains, &cs)
	}
	return clone
}

// normalizeCategories is the category-set resolver applied on agent
// edits: trims, lowercases and deduplicates, preserving first-seen
// order.
func normalizeCategories(categories []string) []string {
	seen := make(map[string]struct{}, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Package reload owns the active compiled network and the derived artifacts
// computed from it.
package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"fluxrules/internal/cache"
	"fluxrules/internal/conflicts"
	"fluxrules/internal/constants"
	"fluxrules/internal/depgraph"
	"fluxrules/internal/logger"
	"fluxrules/internal/rete"
	apperrors "fluxrules/pkg/errors"
	"fluxrules/pkg/metrics"
)

// Snapshot is one installed network version. It is never mutated after install.
type Snapshot struct {
	Network *rete.Network
	// Rules holds the enabled rules in compilation order.
	Rules       []rete.Rule
	Version     uint64
	LoadedAt    time.Time
	Fingerprint string
}

type Options struct {
	Resolver  rete.ActionResolver
	Conflicts *cache.Tiered[*conflicts.Report]
	Graphs    *cache.Tiered[*depgraph.Graph]
	Logger    logger.Logger
}

type Manager struct {
	active atomic.Pointer[Snapshot]

	// mu serializes writers; readers only touch active.
	mu      sync.Mutex
	version uint64

	resolver  rete.ActionResolver
	conflicts *cache.Tiered[*conflicts.Report]
	graphs    *cache.Tiered[*depgraph.Graph]
	flight    singleflight.Group
	logger    logger.Logger
}

// NewManager starts with an empty network at version 0.
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger()
	}
	m := &Manager{
		resolver:  opts.Resolver,
		conflicts: opts.Conflicts,
		graphs:    opts.Graphs,
		logger:    opts.Logger,
	}

	var err error
	if m.conflicts == nil {
		if m.conflicts, err = cache.New[*conflicts.Report](cache.Options{Namespace: constants.ArtifactConflicts}); err != nil {
			return nil, err
		}
	}
	if m.graphs == nil {
		if m.graphs, err = cache.New[*depgraph.Graph](cache.Options{Namespace: constants.ArtifactGraph}); err != nil {
			return nil, err
		}
	}

	m.active.Store(&Snapshot{
		Network:     rete.EmptyNetwork(),
		Rules:       []rete.Rule{},
		LoadedAt:    time.Now(),
		Fingerprint: Fingerprint(nil),
	})
	return m, nil
}

// Snapshot returns the active snapshot. Callers keep using the returned value
// for the whole of one operation even if a reload installs a newer one.
func (m *Manager) Snapshot() *Snapshot {
	return m.active.Load()
}

func (m *Manager) Version() uint64 {
	return m.active.Load().Version
}

// Reload compiles rules and installs the result as a new version. On failure
// the active snapshot is left untouched and the error names the offending rule.
func (m *Manager) Reload(ctx context.Context, rules []rete.Rule, trigger string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.install(ctx, rules, Fingerprint(rules), trigger)
}

// ReloadIfChanged installs rules only when they differ from the active snapshot.
// The boolean reports whether a new version was installed.
func (m *Manager) ReloadIfChanged(ctx context.Context, rules []rete.Rule, trigger string) (*Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := Fingerprint(rules)
	if current := m.active.Load(); current.Version > 0 && current.Fingerprint == fp {
		m.logger.DebugwCtx(ctx, "Rule set unchanged, skipping reload",
			"trigger", trigger,
			"version", current.Version,
		)
		metrics.ObserveReload(trigger, "unchanged", 0)
		return current, false, nil
	}

	snap, err := m.install(ctx, rules, fp, trigger)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

func (m *Manager) install(ctx context.Context, rules []rete.Rule, fp, trigger string) (*Snapshot, error) {
	start := time.Now()

	var opts []rete.CompileOption
	if m.resolver != nil {
		opts = append(opts, rete.WithActionResolver(m.resolver))
	}
	net, err := rete.Compile(rules, opts...)
	if err != nil {
		metrics.ObserveReload(trigger, "failure", time.Since(start))
		m.logger.ErrorwCtx(ctx, "Reload rejected, keeping active snapshot",
			"trigger", trigger,
			"active_version", m.active.Load().Version,
			"rule_id", apperrors.RuleID(err),
			"error", err,
		)
		return nil, apperrors.ErrReloadFailed.
			WithCause(err).
			WithDetail("rule_id", apperrors.RuleID(err))
	}

	m.version++
	snap := &Snapshot{
		Network:     net,
		Rules:       rete.EnabledOnly(rules),
		Version:     m.version,
		LoadedAt:    time.Now(),
		Fingerprint: fp,
	}
	m.active.Store(snap)

	// older versions can no longer be requested
	m.conflicts.Purge()
	m.graphs.Purge()

	elapsed := time.Since(start)
	stats := net.Stats()
	metrics.ObserveReload(trigger, "success", elapsed)
	metrics.SetActiveSnapshot(snap.Version, stats.TerminalNodes, stats.AlphaNodes, stats.BetaNodes)

	m.logger.InfowCtx(ctx, "Installed rule network",
		"trigger", trigger,
		"version", snap.Version,
		"rules_count", stats.TerminalNodes,
		"alpha_nodes", stats.AlphaNodes,
		"beta_nodes", stats.BetaNodes,
		"shared_conditions", stats.SharedAlphaRefs,
		"duration_ms", elapsed.Milliseconds(),
	)
	return snap, nil
}

// Conflicts returns the conflict report of the active version, computing it at
// most once per version across concurrent callers.
func (m *Manager) Conflicts(ctx context.Context) (*conflicts.Report, error) {
	return m.conflictsFor(ctx, m.Snapshot())
}

func (m *Manager) conflictsFor(ctx context.Context, snap *Snapshot) (*conflicts.Report, error) {
	key := cacheKey(snap)
	if report, ok := m.conflicts.Get(ctx, key); ok {
		return report, nil
	}

	v, err, _ := m.flight.Do(constants.ArtifactConflicts+":"+key, func() (interface{}, error) {
		report := conflicts.Detect(snap.Rules)
		m.conflicts.Set(ctx, key, report)
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*conflicts.Report), nil
}

// Graph returns the dependency graph of the active version.
func (m *Manager) Graph(ctx context.Context) (*depgraph.Graph, error) {
	snap := m.Snapshot()
	key := cacheKey(snap)
	if g, ok := m.graphs.Get(ctx, key); ok {
		return g, nil
	}

	v, err, _ := m.flight.Do(constants.ArtifactGraph+":"+key, func() (interface{}, error) {
		report, err := m.conflictsFor(ctx, snap)
		if err != nil {
			return nil, err
		}
		g := depgraph.Build(snap.Network, report)
		m.graphs.Set(ctx, key, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*depgraph.Graph), nil
}

// InvalidateCache drops every cached artifact in both tiers. The next request
// recomputes.
func (m *Manager) InvalidateCache(ctx context.Context) {
	key := cacheKey(m.Snapshot())
	m.flight.Forget(constants.ArtifactConflicts + ":" + key)
	m.flight.Forget(constants.ArtifactGraph + ":" + key)
	m.conflicts.Invalidate(ctx)
	m.graphs.Invalidate(ctx)
	m.logger.InfowCtx(ctx, "Derived artifact cache invalidated", "version", m.Version())
}

func (m *Manager) Close() {
	m.conflicts.Close()
	m.graphs.Close()
}

// cacheKey pairs the process-local version with the content fingerprint; the
// version alone is not unique across replicas sharing a remote tier.
func cacheKey(s *Snapshot) string {
	fp := s.Fingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fmt.Sprintf("v%d:%s", s.Version, fp)
}

// Fingerprint hashes a rule batch. Identical batches in identical order hash equal.
func Fingerprint(rules []rete.Rule) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, r := range rules {
		if err := enc.Encode(r); err != nil {
			fmt.Fprintf(h, "%s|%v|%d\n", r.ID, r.Enabled, r.Priority)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

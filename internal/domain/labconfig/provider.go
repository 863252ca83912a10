// Package labconfig resolves a lab key to its registry record through three
// tiers: an in-process TTL map, a durable snapshot store and the registry
// spreadsheet. Only the registry can fail a resolution.
package labconfig

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/labportal/portal/internal/domain/lab"
	"github.com/labportal/portal/internal/domain/registry"
	"github.com/labportal/portal/internal/platform/cache"
	"github.com/labportal/portal/internal/platform/metrics"
)

// DefaultTTL is the memory tier lifetime when none is configured.
const DefaultTTL = 600 * time.Second

// loadTimeout bounds a shared tier-2/3 load, which outlives the caller that
// started it.
const loadTimeout = 30 * time.Second

// Registry is the source of truth for lab records.
type Registry interface {
	Get(ctx context.Context, labKey string) (*lab.Record, error)
	Upsert(ctx context.Context, rec lab.Record) (*registry.UpsertResult, error)
}

type Options struct {
	TTL   time.Duration
	Clock cache.Clock
	// ValidateSnapshots applies the id-shape check to snapshot records.
	// When false a snapshot is served as stored, so an invalid record
	// written before the check existed stays visible until the snapshot is
	// rewritten.
	ValidateSnapshots bool
	Logger            zerolog.Logger
	Metrics           *metrics.Metrics
}

// Provider is safe for concurrent use. Construct one per process.
type Provider struct {
	registry          Registry
	snapshots         Snapshots
	memory            *cache.TTL[string, *lab.Record]
	group             singleflight.Group
	validateSnapshots bool
	now               cache.Clock
	logger            zerolog.Logger
	metrics           *metrics.Metrics

	// genMu orders memory/snapshot write-backs of in-flight loads against
	// invalidation. A load only writes back if the key's generation is
	// unchanged since it started.
	genMu sync.RWMutex
	gens  map[string]uint64
}

// NewProvider builds a Provider. snapshots may be nil to disable tier 2.
func NewProvider(reg Registry, snapshots Snapshots, opts Options) *Provider {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Provider{
		registry:          reg,
		snapshots:         snapshots,
		memory:            cache.New[string, *lab.Record](ttl, now),
		validateSnapshots: opts.ValidateSnapshots,
		now:               now,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		gens:              make(map[string]uint64),
	}
}

// TTL returns the memory tier lifetime.
func (p *Provider) TTL() time.Duration {
	return p.memory.TTL()
}

// Resolve returns a copy of the record for labKey.
func (p *Provider) Resolve(ctx context.Context, labKey string) (*lab.Record, error) {
	raw := strings.TrimSpace(labKey)
	key := lab.CanonicalKey(raw)
	if key == "" {
		return nil, lab.ErrMissingLab
	}

	if rec, ok := p.memory.Get(key); ok {
		p.metrics.Resolution(metrics.TierMemory, "hit")
		return rec.Clone(), nil
	}

	ch := p.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return p.load(loadCtx, key, raw)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*lab.Record).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the memory entry for labKey. Snapshot and registry are
// untouched. Loads already in flight for the key no longer write back.
func (p *Provider) Invalidate(labKey string) {
	key := lab.CanonicalKey(labKey)
	p.genMu.Lock()
	p.gens[key]++
	p.memory.Delete(key)
	p.genMu.Unlock()
	p.group.Forget(key)
}

// StartCleanup purges expired memory entries every interval until ctx is
// done.
func (p *Provider) StartCleanup(ctx context.Context, interval time.Duration) {
	p.memory.StartCleanup(ctx, interval)
}

func (p *Provider) generation(key string) uint64 {
	p.genMu.RLock()
	defer p.genMu.RUnlock()
	return p.gens[key]
}

// Register writes rec to the registry, refreshes its snapshot and drops the
// memory entry, in that order. Only the registry write can fail the call.
func (p *Provider) Register(ctx context.Context, rec lab.Record) (*registry.UpsertResult, bool, error) {
	rec = rec.Trimmed()
	res, err := p.registry.Upsert(ctx, rec)
	if err != nil {
		return nil, false, err
	}

	key := lab.CanonicalKey(rec.LabKey)
	p.genMu.Lock()
	p.gens[key]++
	snapshotUpdated := p.writeSnapshot(ctx, key, &rec)
	p.memory.Delete(key)
	p.genMu.Unlock()
	p.group.Forget(key)

	p.logger.Info().
		Str("lab", key).
		Str("action", res.Action).
		Bool("snapshot_updated", snapshotUpdated).
		Msg("lab registered")
	return res, snapshotUpdated, nil
}

func (p *Provider) load(ctx context.Context, key, raw string) (*lab.Record, error) {
	gen := p.generation(key)
	if rec, ok := p.memory.Get(key); ok {
		return rec, nil
	}

	if rec := p.readSnapshot(ctx, key); rec != nil {
		p.writeBack(ctx, key, gen, rec, false)
		p.metrics.Resolution(metrics.TierSnapshot, "hit")
		return rec, nil
	}

	start := p.now()
	rec, err := p.registry.Get(ctx, raw)
	p.metrics.RegistryLookup(p.now().Sub(start))
	if err != nil {
		p.metrics.Resolution(metrics.TierRegistry, outcome(err))
		return nil, err
	}

	trimmed := rec.Trimmed()
	if err := trimmed.Validate(); err != nil {
		p.metrics.Resolution(metrics.TierRegistry, outcome(err))
		return nil, err
	}

	p.writeBack(ctx, key, gen, &trimmed, true)
	p.metrics.Resolution(metrics.TierRegistry, "hit")
	return &trimmed, nil
}

// writeBack caches rec in memory, and in the snapshot store when
// withSnapshot is set, unless key was invalidated after gen was read.
func (p *Provider) writeBack(ctx context.Context, key string, gen uint64, rec *lab.Record, withSnapshot bool) {
	p.genMu.RLock()
	defer p.genMu.RUnlock()
	if p.gens[key] != gen {
		p.logger.Debug().Str("lab", key).Msg("dropping write-back of invalidated load")
		return
	}
	if withSnapshot {
		p.writeSnapshot(ctx, key, rec)
	}
	p.memory.Set(key, rec)
}

// readSnapshot returns a usable snapshot record or nil. Failures are logged
// and never returned.
func (p *Provider) readSnapshot(ctx context.Context, key string) *lab.Record {
	if p.snapshots == nil {
		return nil
	}
	rec, err := p.snapshots.Read(ctx, key)
	if err != nil {
		p.metrics.SnapshotFailure("read")
		p.logger.Warn().Err(err).Str("lab", key).Msg("snapshot read failed")
		return nil
	}
	if rec == nil {
		p.metrics.Resolution(metrics.TierSnapshot, "miss")
		return nil
	}
	if p.validateSnapshots {
		if err := rec.Validate(); err != nil {
			p.metrics.Resolution(metrics.TierSnapshot, "invalid")
			p.logger.Warn().Err(err).Str("lab", key).Msg("ignoring invalid snapshot")
			return nil
		}
	}
	return rec
}

func (p *Provider) writeSnapshot(ctx context.Context, key string, rec *lab.Record) bool {
	if p.snapshots == nil {
		return false
	}
	if err := p.snapshots.Write(ctx, key, rec); err != nil {
		p.metrics.SnapshotFailure("write")
		p.logger.Warn().Err(err).Str("lab", key).Msg("snapshot write failed")
		return false
	}
	return true
}

func outcome(err error) string {
	switch {
	case errors.Is(err, lab.ErrLabNotRegistered):
		return "not_registered"
	case errors.Is(err, lab.ErrLabConfigIncomplete):
		return "incomplete"
	case errors.Is(err, lab.ErrRegistryIDsInvalid):
		return "invalid_ids"
	default:
		return "error"
	}
}

// Package registry owns the set of managed neurons hosted by one server
// instance: registration, lookup, concurrent health snapshots and a
// parallel, deadline-bounded shutdown of every unit.
package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hal9ai/cortex/pkg/cerrors"
	"github.com/hal9ai/cortex/pkg/neuron"
)

const shardCount = 16

// Registry is a sharded, read-mostly map of unit id -> *neuron.ManagedNeuron.
// Sharding keeps the hot Get path from contending with the rare Register
// path on a single global lock.
type Registry struct {
	shards [shardCount]shard
}

type shard struct {
	mu    sync.RWMutex
	units map[string]*neuron.ManagedNeuron
}

// New builds an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].units = make(map[string]*neuron.ManagedNeuron)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv32(id)
	return &r.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Register adds a unit, failing if the id is already taken.
func (r *Registry) Register(n *neuron.ManagedNeuron) error {
	s := r.shardFor(n.ID())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[n.ID()]; exists {
		return cerrors.New(cerrors.KindConfig, "duplicate unit id: "+n.ID())
	}
	s.units[n.ID()] = n
	return nil
}

// Get returns the unit registered under id, if any.
func (r *Registry) Get(id string) (*neuron.ManagedNeuron, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.units[id]
	return n, ok
}

// All returns every registered unit. The returned slice is a snapshot and
// safe to range over without holding any lock.
func (r *Registry) All() []*neuron.ManagedNeuron {
	var out []*neuron.ManagedNeuron
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, n := range s.units {
			out = append(out, n)
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		total += len(s.units)
		s.mu.RUnlock()
	}
	return total
}

// HealthReport is one unit's health keyed by id, for the status surface.
type HealthReport struct {
	UnitID string
	Health neuron.Health
}

// HealthCheck takes a concurrent snapshot of every unit's health.
func (r *Registry) HealthCheck() []HealthReport {
	units := r.All()
	out := make([]HealthReport, len(units))
	var wg sync.WaitGroup
	for i, n := range units {
		wg.Add(1)
		go func(i int, n *neuron.ManagedNeuron) {
			defer wg.Done()
			out[i] = HealthReport{UnitID: n.ID(), Health: n.Health()}
		}(i, n)
	}
	wg.Wait()
	return out
}

// ShutdownAll shuts down every registered unit in parallel, bounded by
// ctx's deadline. A slow or hung unit never blocks the others; errgroup
// just fans the work out and joins, since ManagedNeuron.Shutdown cannot
// itself fail.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	units := r.All()
	g, _ := errgroup.WithContext(ctx)
	for _, n := range units {
		n := n
		g.Go(func() error {
			n.Shutdown()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

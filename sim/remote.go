package sim

import "sync"

// RemoteSystem mirrors a system owned by another federate. It is mutated only
// by Reflect, called from the synchronization layer; local computation never
// writes to it.
//
// Thread-safety: safe for concurrent Reflect and reads.
type RemoteSystem struct {
	sector Sector

	mu          sync.RWMutex
	name        string
	societyName string
	values      Attributes
	updatedAt   int64
	reflections int
}

// NewRemoteSystem creates an empty mirror for one sector.
func NewRemoteSystem(sector Sector, name string) *RemoteSystem {
	values := make(Attributes)
	for _, k := range Schema(sector) {
		values[k] = 0
	}
	return &RemoteSystem{sector: sector, name: name, values: values}
}

func (r *RemoteSystem) Sector() Sector { return r.sector }

func (r *RemoteSystem) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *RemoteSystem) SocietyName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.societyName
}

// UpdatedAt returns the logical time of the most recent reflection.
func (r *RemoteSystem) UpdatedAt() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

// Reflections counts received updates.
func (r *RemoteSystem) Reflections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reflections
}

// Reflect applies received attribute values, last write wins per attribute.
// Keys outside the sector schema are ignored.
func (r *RemoteSystem) Reflect(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Name != "" {
		r.name = s.Name
	}
	if s.SocietyName != "" {
		r.societyName = s.SocietyName
	}
	for k, v := range s.Values {
		if _, ok := r.values[k]; ok {
			r.values[k] = v
		}
	}
	r.updatedAt = s.Time
	r.reflections++
}

// Tick is a no-op: mirrors change only through Reflect.
func (r *RemoteSystem) Tick(Time) error { return nil }

// Tock is a no-op.
func (r *RemoteSystem) Tock() {}

func (r *RemoteSystem) Attributes() Attributes {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values.Clone()
}

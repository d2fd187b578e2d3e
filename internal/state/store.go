// Package state accumulates decoded advertisement fields for one device.
//
// Advertisements arrive partial and interleaved: a thermostat broadcast may carry
// only the current temperature, the next one only the target. The Store merges
// every update field by field (last write wins) and never clears a field, so a
// value that stops being advertised stays at its last known value.
package state

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Field names a decoded device value.
type Field string

const (
	Position           Field = "position"
	CurrentTemperature Field = "current_temperature"
	TargetTemperature  Field = "target_temperature"
	SensorTemperature  Field = "sensor_temperature"
	SensorBrightness   Field = "sensor_brightness"
)

// AllFields lists the known fields in display order.
var AllFields = []Field{Position, CurrentTemperature, TargetTemperature, SensorTemperature, SensorBrightness}

// Fields is a partial set of field values.
type Fields map[Field]float64

// Snapshot is an immutable copy of a store's fields at one point in time.
type Snapshot struct {
	Address   string
	UpdatedAt time.Time
	fields    map[Field]float64
}

// Get returns the value of f and whether it has ever been set.
func (s Snapshot) Get(f Field) (float64, bool) {
	v, ok := s.fields[f]
	return v, ok
}

// Has reports whether f has ever been set.
func (s Snapshot) Has(f Field) bool {
	_, ok := s.fields[f]
	return ok
}

// Len returns the number of fields set.
func (s Snapshot) Len() int {
	return len(s.fields)
}

// Fields returns a copy of the snapshot's fields.
func (s Snapshot) Fields() Fields {
	out := make(Fields, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// Names returns the names of the set fields, known fields first in display
// order followed by any others sorted by name.
func (s Snapshot) Names() []Field {
	names := make([]Field, 0, len(s.fields))
	for _, f := range AllFields {
		if s.Has(f) {
			names = append(names, f)
		}
	}
	var extra []Field
	for f := range s.fields {
		if !isKnown(f) {
			extra = append(extra, f)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(names, extra...)
}

// MarshalJSON encodes the snapshot fields as a flat JSON object.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields)
}

func isKnown(f Field) bool {
	for _, k := range AllFields {
		if k == f {
			return true
		}
	}
	return false
}

// Subscriber receives a snapshot after every merge that changed the store.
type Subscriber interface {
	StateChanged(s Snapshot)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(Snapshot)

func (f SubscriberFunc) StateChanged(s Snapshot) { f(s) }

type subscription struct {
	id  uint64
	sub Subscriber
}

// Store holds the latest merged field values for one device.
type Store struct {
	address string

	// notifyMu serialises merge+notify so subscribers observe updates in merge order.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	fields    map[Field]float64
	updatedAt time.Time
	subs      []subscription
	nextID    uint64
}

// NewStore creates an empty store for the device at address.
func NewStore(address string) *Store {
	return &Store{
		address: address,
		fields:  make(map[Field]float64),
	}
}

// Address returns the device address the store belongs to.
func (s *Store) Address() string {
	return s.address
}

// Subscribe registers sub for change notifications and returns a function
// that removes it. Subscribers run synchronously on the updating goroutine and
// must not call Update.
func (s *Store) Subscribe(sub Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, sub: sub})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.subs {
			if e.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Update merges partial into the stored fields, leaving unmentioned fields
// untouched, then notifies every subscriber with the merged snapshot.
// An empty update changes nothing and notifies no one.
func (s *Store) Update(partial Fields) Snapshot {
	if len(partial) == 0 {
		return s.Snapshot()
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.merge(partial)
	snap := s.snapshotLocked()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, e := range subs {
		e.sub.StateChanged(snap)
	}
	return snap
}

// Seed merges fields without notifying subscribers. It is used to restore a
// cached last-known state before live advertisements arrive.
func (s *Store) Seed(fields Fields) {
	if len(fields) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merge(fields)
}

// Snapshot returns an immutable copy of the current fields.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) merge(partial Fields) {
	for k, v := range partial {
		s.fields[k] = v
	}
	s.updatedAt = time.Now()
}

func (s *Store) snapshotLocked() Snapshot {
	fields := make(map[Field]float64, len(s.fields))
	for k, v := range s.fields {
		fields[k] = v
	}
	return Snapshot{
		Address:   s.address,
		UpdatedAt: s.updatedAt,
		fields:    fields,
	}
}

// Package scanner listens for vendor advertisements, remembers where each
// peripheral was last seen and hands manufacturer payloads to per-address
// listeners. It doubles as the peripheral resolver of the link manager.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/protocol"
	"github.com/srg/girable/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// EventType marks if the peripheral was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

func (t EventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type Event struct {
	Type       EventType
	Peripheral device.Peripheral
}

// Listener receives the manufacturer payload of every vendor advertisement
// from one address, company id already stripped. It runs on the scan
// callback goroutine and must not block.
type Listener func(payload []byte)

// Options configures scanning behavior
type Options struct {
	// Duration bounds Scan; zero scans until the context ends.
	Duration time.Duration `yaml:"duration"`
	// DuplicateFilter reports each peripheral once per scan. Telemetry needs
	// every advertisement, so it is off unless only discovery is wanted.
	DuplicateFilter bool     `yaml:"duplicate_filter"`
	AllowList       []string `yaml:"allow"`
	BlockList       []string `yaml:"block"`
	// MaxAge makes sightings older than this unresolvable; zero keeps them forever.
	MaxAge time.Duration `yaml:"max_age"`
	// EventBuffer is the size of the Events ring.
	EventBuffer int `default:"100" yaml:"event_buffer"`
}

type sighting struct {
	mu sync.RWMutex
	p  device.Peripheral
}

func (s *sighting) get() device.Peripheral {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

func (s *sighting) update(p device.Peripheral) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Name == "" {
		p.Name = s.p.Name
	}
	s.p = p
}

// Scanner handles vendor peripheral discovery and advertisement dispatch
type Scanner struct {
	dev    device.ScanningDevice
	opts   Options
	logger *logrus.Logger

	sightings *hashmap.Map[string, *sighting]
	listeners *hashmap.Map[string, Listener]
	events    *ringchan.Channel[Event]

	waitMu  sync.Mutex
	waiters map[string][]chan struct{}
}

// New creates a scanner reading advertisements from dev.
func New(dev device.ScanningDevice, opts Options, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 100
	}

	return &Scanner{
		dev:       dev,
		opts:      opts,
		logger:    logger,
		sightings: hashmap.New[string, *sighting](),
		listeners: hashmap.New[string, Listener](),
		events:    ringchan.New[Event](opts.EventBuffer),
		waiters:   make(map[string][]chan struct{}),
	}
}

// Scan reads advertisements until opts.Duration elapses or ctx ends.
// Sightings accumulate across calls.
func (s *Scanner) Scan(ctx context.Context, progressCallback ProgressCallback) error {
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	if s.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", s.opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	if err := s.dev.Scan(ctx, !s.opts.DuplicateFilter, s.handleAdvertisement); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.sightings.Len()).Info("BLE scan completed")
	progressCallback("Processing results")
	return nil
}

// handleAdvertisement records a vendor sighting and forwards its payload
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	id, payload, ok := protocol.SplitManufacturerData(adv.ManufacturerData())
	if !ok || id != protocol.ManufacturerID {
		return
	}

	key := device.NormalizeAddress(adv.Addr())
	if !s.shouldInclude(key) {
		return
	}

	p := device.Peripheral{
		Address:     adv.Addr(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		LastSeen:    time.Now(),
	}

	sg, existing := s.sightings.GetOrInsert(key, &sighting{p: p})
	event := Event{Type: EventNew}
	if existing {
		sg.update(p)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  p.DisplayName(),
			"address": p.Address,
			"rssi":    p.RSSI,
		}).Info("Discovered new device")
	}
	event.Peripheral = sg.get()

	s.events.Send(event)
	s.wake(key)

	if l, ok := s.listeners.Get(key); ok {
		l(payload)
	}
}

// shouldInclude applies allow/block filters
func (s *Scanner) shouldInclude(key string) bool {
	for _, blocked := range s.opts.BlockList {
		if device.NormalizeAddress(blocked) == key {
			return false
		}
	}
	if len(s.opts.AllowList) == 0 {
		return true
	}
	for _, a := range s.opts.AllowList {
		if device.NormalizeAddress(a) == key {
			return true
		}
	}
	return false
}

// Listen registers l for advertisements from address, replacing any previous
// listener for it. The returned function removes the registration.
func (s *Scanner) Listen(address string, l Listener) func() {
	key := device.NormalizeAddress(address)
	s.listeners.Set(key, l)
	return func() {
		s.listeners.Del(key)
	}
}

// Resolve returns the last sighting of address. It fails with an error
// wrapping device.ErrPeripheralNotFound when the address has not been seen,
// or was last seen longer than MaxAge ago.
func (s *Scanner) Resolve(_ context.Context, address string) (device.Peripheral, error) {
	sg, ok := s.sightings.Get(device.NormalizeAddress(address))
	if !ok {
		return device.Peripheral{}, &device.NotFoundError{Resource: "peripheral", IDs: []string{address}}
	}
	p := sg.get()
	if s.opts.MaxAge > 0 {
		if age := time.Since(p.LastSeen); age > s.opts.MaxAge {
			return device.Peripheral{}, fmt.Errorf("last seen %v ago: %w", age.Round(time.Second),
				&device.NotFoundError{Resource: "peripheral", IDs: []string{address}})
		}
	}
	return p, nil
}

// WaitFor blocks until address has been seen or ctx ends. A scan must be
// running for it to make progress.
func (s *Scanner) WaitFor(ctx context.Context, address string) (device.Peripheral, error) {
	key := device.NormalizeAddress(address)
	for {
		ch := make(chan struct{})
		s.waitMu.Lock()
		s.waiters[key] = append(s.waiters[key], ch)
		s.waitMu.Unlock()

		// Checked after registering so a sighting in between is not missed.
		if p, err := s.Resolve(ctx, address); err == nil {
			return p, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return device.Peripheral{}, fmt.Errorf("waiting for %s: %w", address, ctx.Err())
		}
	}
}

func (s *Scanner) wake(key string) {
	s.waitMu.Lock()
	chs := s.waiters[key]
	delete(s.waiters, key)
	s.waitMu.Unlock()

	for _, ch := range chs {
		close(ch)
	}
}

// Peripherals returns a snapshot of every sighting ordered by address
func (s *Scanner) Peripherals() []device.Peripheral {
	out := make([]device.Peripheral, 0, s.sightings.Len())
	s.sightings.Range(func(_ string, sg *sighting) bool {
		out = append(out, sg.get())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return device.NormalizeAddress(out[i].Address) < device.NormalizeAddress(out[j].Address)
	})
	return out
}

// Events return a read-only channel of sighting events. Slow consumers lose
// the oldest events.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

var _ device.Resolver = (*Scanner)(nil)

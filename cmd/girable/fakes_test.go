package main

import (
	"context"
	"sync"
	"time"

	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/testutils"
)

// fakeScanningDevice replays its advertisements every few milliseconds until
// the scan context ends.
type fakeScanningDevice struct {
	adverts []*testutils.FakeAdvertisement
}

func (d *fakeScanningDevice) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, adv := range d.adverts {
			handler(adv)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type fakeSession struct{ address string }

func (s *fakeSession) Address() string { return s.address }

type write struct {
	data         []byte
	withResponse bool
}

// fakeTransport records every frame written.
type fakeTransport struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	writes      []write
}

func (t *fakeTransport) Connect(_ context.Context, p device.Peripheral, _ device.ConnectOptions) (device.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return &fakeSession{address: p.Address}, nil
}

func (t *fakeTransport) Write(_ context.Context, _ device.Session, data []byte, _ time.Duration, withResponse bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, write{data: append([]byte(nil), data...), withResponse: withResponse})
	return nil
}

func (t *fakeTransport) Disconnect(device.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	return nil
}

func (t *fakeTransport) recorded() (writes []write, connects, disconnects int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]write(nil), t.writes...), t.connects, t.disconnects
}

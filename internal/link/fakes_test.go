package link_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/girable/internal/device"
)

type fakeSession struct {
	address string
	id      int
}

func (s *fakeSession) Address() string { return s.address }

type fakeResolver struct {
	mu    sync.Mutex
	known map[string]device.Peripheral
	calls int
}

func newFakeResolver(addresses ...string) *fakeResolver {
	r := &fakeResolver{known: map[string]device.Peripheral{}}
	for _, a := range addresses {
		r.known[device.NormalizeAddress(a)] = device.Peripheral{Address: a, Name: "Gira " + a, Connectable: true}
	}
	return r
}

func (r *fakeResolver) Resolve(_ context.Context, address string) (device.Peripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	p, ok := r.known[device.NormalizeAddress(address)]
	if !ok {
		return device.Peripheral{}, &device.NotFoundError{Resource: "peripheral", IDs: []string{address}}
	}
	return p, nil
}

var errRadio = errors.New("link dropped")

// fakeTransport records calls and tracks how many writes overlap.
type fakeTransport struct {
	mu          sync.Mutex
	sessions    int
	connects    int
	disconnects int
	writes      [][]byte
	responses   []bool
	lastOpts    device.ConnectOptions

	connectErr error
	// writeErrs is consumed one entry per write; nil entries succeed.
	writeErrs  []error
	writeDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (t *fakeTransport) Connect(_ context.Context, p device.Peripheral, opts device.ConnectOptions) (device.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.lastOpts = opts
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	t.sessions++
	return &fakeSession{address: p.Address, id: t.sessions}, nil
}

func (t *fakeTransport) Write(ctx context.Context, _ device.Session, data []byte, _ time.Duration, withResponse bool) error {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		m := t.maxInFlight.Load()
		if n <= m || t.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if t.writeDelay > 0 {
		select {
		case <-time.After(t.writeDelay):
		case <-ctx.Done():
			return device.ErrTimeout
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, append([]byte(nil), data...))
	t.responses = append(t.responses, withResponse)
	if len(t.writeErrs) > 0 {
		err := t.writeErrs[0]
		t.writeErrs = t.writeErrs[1:]
		return err
	}
	return nil
}

func (t *fakeTransport) Disconnect(device.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	return nil
}

func (t *fakeTransport) counts() (connects, writes, disconnects int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, len(t.writes), t.disconnects
}

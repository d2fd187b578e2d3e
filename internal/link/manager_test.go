package link_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/link"
	"github.com/srg/girable/internal/protocol"
	"github.com/srg/girable/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

type ManagerTestSuite struct {
	suite.Suite

	helper    *testutils.TestHelper
	resolver  *fakeResolver
	transport *fakeTransport
	opts      link.Options
	manager   *link.Manager
}

func (suite *ManagerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.resolver = newFakeResolver(testAddress)
	suite.transport = &fakeTransport{}
	suite.opts = link.Options{
		WriteTimeout:    200 * time.Millisecond,
		IdleTimeout:     150 * time.Millisecond,
		ConnectAttempts: 3,
		ConnectTimeout:  100 * time.Millisecond,
	}
	suite.manager = link.NewManager(testAddress, suite.resolver, suite.transport, suite.opts, suite.helper.Logger)
}

func (suite *ManagerTestSuite) TearDownTest() {
	_ = suite.manager.Close()
}

func (suite *ManagerTestSuite) stop() protocol.Frame {
	return protocol.StopCommand()
}

func (suite *ManagerTestSuite) TestDefaultOptions() {
	opts := link.DefaultOptions()
	suite.Assert().Equal(2*time.Second, opts.WriteTimeout)
	suite.Assert().Equal(15*time.Second, opts.IdleTimeout)
	suite.Assert().Equal(3, opts.ConnectAttempts)
	suite.Assert().Equal(5*time.Second, opts.ConnectTimeout)
	suite.Assert().False(opts.SkipPairing, "pairing MUST be requested by default")

	m := link.NewManager(testAddress, suite.resolver, suite.transport, link.Options{IdleTimeout: time.Second}, nil)
	suite.Assert().Equal(time.Second, m.Options().IdleTimeout, "explicit option MUST be kept")
	suite.Assert().Equal(2*time.Second, m.Options().WriteTimeout, "zero option MUST take its default")
}

func (suite *ManagerTestSuite) TestSendConnectsOnDemand() {
	// GOAL: Verify the first send resolves, connects with the configured budget and writes
	//
	// TEST SCENARIO: disconnected → Send → resolver hit → connect(3 × 100ms, pair) → write → Connected

	suite.Require().Equal(link.Disconnected, suite.manager.State())

	err := suite.manager.Send(context.Background(), suite.stop(), true)
	suite.Require().NoError(err)

	connects, writes, _ := suite.transport.counts()
	suite.Assert().Equal(1, connects)
	suite.Assert().Equal(1, writes)
	suite.Assert().Equal(link.Connected, suite.manager.State())
	suite.Assert().Equal(suite.stop().Bytes(), suite.transport.writes[0], "frame bytes MUST reach the transport unchanged")
	suite.Assert().True(suite.transport.responses[0])
	suite.Assert().Equal(device.ConnectOptions{Attempts: 3, AttemptTimeout: 100 * time.Millisecond, Pair: true}, suite.transport.lastOpts)
}

func (suite *ManagerTestSuite) TestSendReusesOpenLink() {
	for i := 0; i < 3; i++ {
		suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), false))
	}

	connects, writes, disconnects := suite.transport.counts()
	suite.Assert().Equal(1, connects, "open link MUST be reused")
	suite.Assert().Equal(3, writes)
	suite.Assert().Equal(0, disconnects)
	suite.Assert().False(suite.transport.responses[2])
}

func (suite *ManagerTestSuite) TestMutualExclusion() {
	// GOAL: Verify concurrent sends never overlap on the wire, whether earlier writes succeed or fail
	//
	// TEST SCENARIO: 6 concurrent sends, slow writes, every other write fails → max in-flight writes is 1

	suite.transport.writeDelay = 20 * time.Millisecond
	suite.transport.writeErrs = []error{nil, errRadio, nil, errRadio, nil, nil, nil, nil}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = suite.manager.Send(context.Background(), suite.stop(), true)
		}()
	}
	wg.Wait()

	suite.Assert().EqualValues(1, suite.transport.maxInFlight.Load(), "writes MUST NOT overlap")
}

func (suite *ManagerTestSuite) TestIdleDisconnect() {
	// GOAL: Verify the link stays up while idle time is short and drops after the idle timeout
	//
	// TEST SCENARIO: send → no disconnect before 150ms → disconnect shortly after → Disconnected

	suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true))

	suite.Never(func() bool {
		_, _, d := suite.transport.counts()
		return d > 0
	}, 100*time.Millisecond, 10*time.Millisecond, "link MUST NOT drop before the idle timeout")

	suite.Eventually(func() bool {
		_, _, d := suite.transport.counts()
		return d == 1
	}, time.Second, 10*time.Millisecond, "idle link MUST be dropped")
	suite.Assert().Equal(link.Disconnected, suite.manager.State())
}

func (suite *ManagerTestSuite) TestIdleTimerRescheduledBySend() {
	// GOAL: Verify every successful write pushes the idle deadline out
	//
	// TEST SCENARIO: send every 80ms for 400ms (idle 150ms) → never disconnected → one disconnect after the last send

	for i := 0; i < 5; i++ {
		suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true))
		time.Sleep(80 * time.Millisecond)
	}

	connects, _, disconnects := suite.transport.counts()
	suite.Assert().Equal(1, connects, "active link MUST NOT reconnect")
	suite.Assert().Equal(0, disconnects, "active link MUST NOT be dropped")

	suite.Eventually(func() bool {
		_, _, d := suite.transport.counts()
		return d == 1
	}, time.Second, 10*time.Millisecond)
}

func (suite *ManagerTestSuite) TestCloseCancelsIdleTimer() {
	// GOAL: Verify close right after a write drops the link once and no idle callback fires later
	//
	// TEST SCENARIO: send → close → exactly one disconnect → wait past idle timeout → still one

	suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true))
	suite.Require().NoError(suite.manager.Close())

	_, _, disconnects := suite.transport.counts()
	suite.Require().Equal(1, disconnects)
	suite.Assert().Equal(link.Disconnected, suite.manager.State())

	suite.Never(func() bool {
		_, _, d := suite.transport.counts()
		return d > 1
	}, 3*suite.opts.IdleTimeout, 10*time.Millisecond, "cancelled idle timer MUST NOT fire")
}

func (suite *ManagerTestSuite) TestCloseIsIdempotent() {
	suite.Require().NoError(suite.manager.Close(), "close without a link MUST succeed")

	suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true))
	suite.Require().NoError(suite.manager.Close())
	suite.Require().NoError(suite.manager.Close())

	_, _, disconnects := suite.transport.counts()
	suite.Assert().Equal(1, disconnects)

	suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true), "send after close MUST reconnect")
	connects, _, _ := suite.transport.counts()
	suite.Assert().Equal(2, connects)
}

func (suite *ManagerTestSuite) TestReconnectAfterFailedWrite() {
	// GOAL: Verify a write failure on an open link is retried once over a new link
	//
	// TEST SCENARIO: send ok → write fails → teardown → reconnect → write ok → Connected

	suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true))
	suite.transport.mu.Lock()
	suite.transport.writeErrs = []error{errRadio}
	suite.transport.mu.Unlock()

	err := suite.manager.Send(context.Background(), suite.stop(), true)
	suite.Require().NoError(err, "single reconnect MUST recover a dropped link")

	connects, writes, disconnects := suite.transport.counts()
	suite.Assert().Equal(2, connects)
	suite.Assert().Equal(3, writes)
	suite.Assert().Equal(1, disconnects, "failed link MUST be torn down")
	suite.Assert().Equal(link.Connected, suite.manager.State())
}

func (suite *ManagerTestSuite) TestFailedRetryIsReported() {
	// GOAL: Verify the retry is bounded to one and its failure surfaces as a write TransportError
	//
	// TEST SCENARIO: open link → write fails → reconnect → write fails again → TransportError(write), Disconnected

	suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true))
	suite.transport.mu.Lock()
	suite.transport.writeErrs = []error{errRadio, errRadio}
	suite.transport.mu.Unlock()

	err := suite.manager.Send(context.Background(), suite.stop(), true)
	suite.Require().Error(err)
	suite.Assert().ErrorIs(err, &device.TransportError{Op: device.OpWrite})
	suite.Assert().ErrorIs(err, errRadio, "cause MUST be preserved")

	connects, writes, disconnects := suite.transport.counts()
	suite.Assert().Equal(2, connects)
	suite.Assert().Equal(3, writes, "exactly one retry MUST be made")
	suite.Assert().Equal(2, disconnects)
	suite.Assert().Equal(link.Disconnected, suite.manager.State())
}

func (suite *ManagerTestSuite) TestResolverNotFoundFailsFast() {
	m := link.NewManager("11:22:33:44:55:66", suite.resolver, suite.transport, suite.opts, suite.helper.Logger)
	defer m.Close()

	err := m.Send(context.Background(), suite.stop(), true)
	suite.Require().Error(err)

	var terr *device.TransportError
	suite.Require().ErrorAs(err, &terr)
	suite.Assert().Equal(device.OpResolve, terr.Op)
	suite.Assert().ErrorIs(err, device.ErrPeripheralNotFound)

	connects, _, _ := suite.transport.counts()
	suite.Assert().Equal(0, connects, "unknown peripheral MUST NOT be dialed")
	suite.Assert().Equal(link.Disconnected, m.State())
}

func (suite *ManagerTestSuite) TestConnectFailure() {
	// GOAL: Verify an exhausted connect budget surfaces a connect TransportError and does not stick
	//
	// TEST SCENARIO: connect fails → TransportError(connect), Disconnected → connect recovers → next send succeeds

	suite.transport.connectErr = device.ErrTimeout

	err := suite.manager.Send(context.Background(), suite.stop(), true)
	suite.Require().Error(err)
	suite.Assert().ErrorIs(err, &device.TransportError{Op: device.OpConnect})
	suite.Assert().ErrorIs(err, device.ErrTimeout)
	suite.Assert().ErrorIs(err, device.ErrTransport)
	suite.Assert().Equal(link.Disconnected, suite.manager.State())

	_, writes, _ := suite.transport.counts()
	suite.Assert().Equal(0, writes)

	suite.transport.mu.Lock()
	suite.transport.connectErr = nil
	suite.transport.mu.Unlock()

	suite.Require().NoError(suite.manager.Send(context.Background(), suite.stop(), true))
	suite.Assert().Equal(link.Connected, suite.manager.State())
}

func (suite *ManagerTestSuite) TestWriteFailureOnFreshLink() {
	suite.transport.writeErrs = []error{errRadio}

	err := suite.manager.Send(context.Background(), suite.stop(), true)
	suite.Require().Error(err)
	suite.Assert().ErrorIs(err, &device.TransportError{Op: device.OpWrite})

	connects, writes, disconnects := suite.transport.counts()
	suite.Assert().Equal(1, connects, "fresh link failure MUST NOT reconnect again")
	suite.Assert().Equal(1, writes)
	suite.Assert().Equal(1, disconnects, "partial link MUST be torn down")
	suite.Assert().Equal(link.Disconnected, suite.manager.State())
}

func (suite *ManagerTestSuite) TestWriteTimeout() {
	suite.transport.writeDelay = time.Second

	start := time.Now()
	err := suite.manager.Send(context.Background(), suite.stop(), true)
	suite.Require().Error(err)
	suite.Assert().ErrorIs(err, device.ErrTimeout)
	suite.Assert().Less(time.Since(start), 800*time.Millisecond, "write MUST be bounded by the write timeout")
}

func (suite *ManagerTestSuite) TestWaitingSendHonoursContext() {
	// GOAL: Verify a caller blocked behind an in-flight send gives up when its context ends
	//
	// TEST SCENARIO: slow send holds the lock → second send with 30ms deadline → context error, no write

	suite.transport.writeDelay = 150 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- suite.manager.Send(context.Background(), suite.stop(), true) }()

	suite.Eventually(func() bool { return suite.transport.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := suite.manager.Send(ctx, suite.stop(), true)
	suite.Assert().ErrorIs(err, context.DeadlineExceeded)
	suite.Assert().False(errors.Is(err, device.ErrTransport), "lock wait MUST NOT be reported as a transport failure")

	suite.Require().NoError(<-done)
	_, writes, _ := suite.transport.counts()
	suite.Assert().Equal(1, writes)
}

func (suite *ManagerTestSuite) TestCloseRacesSend() {
	// GOAL: Verify close and send interleave without leaving a half-torn link
	//
	// TEST SCENARIO: concurrent sends and closes → every session opened is closed once at the end

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = suite.manager.Send(context.Background(), suite.stop(), true)
		}()
		go func() {
			defer wg.Done()
			_ = suite.manager.Close()
		}()
	}
	wg.Wait()
	suite.Require().NoError(suite.manager.Close())

	connects, _, disconnects := suite.transport.counts()
	suite.Assert().Equal(connects, disconnects, "every opened link MUST be closed exactly once")
	suite.Assert().Equal(link.Disconnected, suite.manager.State())
}

func (suite *ManagerTestSuite) TestEmptyFrameRejected() {
	err := suite.manager.Send(context.Background(), protocol.Frame{}, true)

	var verr *device.ValidationError
	suite.Assert().ErrorAs(err, &verr)
	connects, _, _ := suite.transport.counts()
	suite.Assert().Equal(0, connects)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

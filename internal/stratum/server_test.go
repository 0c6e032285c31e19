package stratum

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/The-Mining-Game/WATTx/internal/jobbroker"
	"github.com/The-Mining-Game/WATTx/internal/provider"
)

func newTestBroker(t *testing.T) *jobbroker.Broker {
	t.Helper()
	b := jobbroker.New(zap.NewNop(), jobbroker.Config{JobTimeoutSeconds: 3600, Algo: "test"}, provider.NewStub(), nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("broker.Start: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func newTestServer(t *testing.T, cb Callbacks) *Server {
	t.Helper()
	broker := newTestBroker(t)
	return New(zap.NewNop(), Config{RecvBufferMax: 32}, broker, cb)
}

func TestAppendAndExtractFramesSplitsOnNewline(t *testing.T) {
	s := newTestServer(t, Callbacks{})
	c, _ := newTestClient()

	frames, err := s.appendAndExtractFrames(c, []byte("abc\ndef"))
	if err != nil {
		t.Fatalf("appendAndExtractFrames: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "abc" {
		t.Fatalf("frames = %v, want one frame \"abc\"", frames)
	}

	frames, err = s.appendAndExtractFrames(c, []byte("\n"))
	if err != nil {
		t.Fatalf("appendAndExtractFrames: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "def" {
		t.Fatalf("frames = %v, want one frame \"def\" once the newline arrives", frames)
	}
}

func TestAppendAndExtractFramesRejectsOverflow(t *testing.T) {
	s := newTestServer(t, Callbacks{}) // RecvBufferMax: 32
	c, _ := newTestClient()

	big := make([]byte, 64)
	for i := range big {
		big[i] = 'x'
	}

	if _, err := s.appendAndExtractFrames(c, big); err == nil {
		t.Fatal("a frame-less chunk exceeding RecvBufferMax must error")
	}
}

func TestDisconnectRemovesClientAndClosesConn(t *testing.T) {
	s := newTestServer(t, Callbacks{})
	c, fc := newTestClient()
	s.clients[c.SessionID] = c

	s.disconnect(c)

	if c.State() != stateClosed {
		t.Fatal("disconnect must set client state to closed")
	}
	if !fc.closed {
		t.Fatal("disconnect must close the underlying connection")
	}
	if _, ok := s.clients[c.SessionID]; ok {
		t.Fatal("disconnect must remove the client from the registry")
	}
}

func TestBroadcastJobOnlySendsToAuthorizedClients(t *testing.T) {
	s := newTestServer(t, Callbacks{})

	authorized, authorizedConn := newTestClient()
	authorized.setState(stateAuthorized)

	subscribedOnly, subscribedConn := newTestClient()
	subscribedOnly.setState(stateSubscribed)

	s.clients[authorized.SessionID] = authorized
	s.clients[subscribedOnly.SessionID] = subscribedOnly

	job := s.broker.Current()
	if job == nil {
		t.Fatal("test broker must have produced an initial job")
	}
	s.BroadcastJob(job)

	if authorizedConn.Len() == 0 {
		t.Fatal("an authorized client must receive the job broadcast")
	}
	if subscribedConn.Len() != 0 {
		t.Fatal("a merely-subscribed client must not receive the job broadcast")
	}
}

func TestStatsReflectsClientCountAndCounters(t *testing.T) {
	s := newTestServer(t, Callbacks{})
	c, _ := newTestClient()
	s.clients[c.SessionID] = c

	s.sharesAccepted.Add(3)
	s.sharesRejected.Add(1)
	s.blocksFound.Add(2)

	stats := s.Stats()
	if stats.Clients != 1 {
		t.Fatalf("Clients = %d, want 1", stats.Clients)
	}
	if stats.SharesAccepted != 3 || stats.SharesRejected != 1 || stats.BlocksFound != 2 {
		t.Fatalf("counters = %+v, want accepted=3 rejected=1 blocks=2", stats)
	}
}

func TestSetAndGetListenAddr(t *testing.T) {
	s := newTestServer(t, Callbacks{})
	s.SetListenAddr("0.0.0.0:3333")
	if s.ListenAddr() != "0.0.0.0:3333" {
		t.Fatalf("ListenAddr() = %q, want 0.0.0.0:3333", s.ListenAddr())
	}
}

func TestIdleClientIsEligibleForReapingAfterTimeout(t *testing.T) {
	c, _ := newTestClient()
	c.lastActivity.Store(time.Now().Add(-2 * time.Hour).Unix())

	if c.idleFor() < time.Hour {
		t.Fatal("idleFor must reflect the backdated lastActivity timestamp")
	}
}

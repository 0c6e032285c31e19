// Package stratum implements the S core: a TCP JSON-RPC mining server
// accepting two historical dialects (positional "mining.*" and
// object-style Monero "login"/"getjob"/"submit"), with per-client state,
// job broadcast and share validation.
package stratum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/The-Mining-Game/WATTx/internal/apperrors"
	"github.com/The-Mining-Game/WATTx/internal/jobbroker"
	"github.com/The-Mining-Game/WATTx/internal/metrics"
)

const maxRecvBuffer = 64 * 1024

// Config controls listener and session behavior.
type Config struct {
	ListenAddr    string
	MaxClients    int
	IdleTimeout   time.Duration
	RecvBufferMax int
}

// Callbacks lets the server delegate job lookup and share validation to
// the owning MinerDriver without depending on its concrete type.
type Callbacks struct {
	OnSubmit func(ctx context.Context, jobID string, nonce uint32) (accepted bool, errCode int, errMsg string)
}

// Server is the S core.
type Server struct {
	logger     *zap.Logger
	cfg        Config
	broker     *jobbroker.Broker
	cb         Callbacks
	errHandler *apperrors.ErrorHandler
	metrics    *metrics.Exporter

	listener net.Listener

	clientsMu sync.RWMutex
	clients   map[string]*Client

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sharesAccepted atomic.Uint64
	sharesRejected atomic.Uint64
	blocksFound    atomic.Uint64
}

// New creates a Server bound to broker for job data and cb for share
// validation; it does not start listening until Start is called.
func New(logger *zap.Logger, cfg Config, broker *jobbroker.Broker, cb Callbacks) *Server {
	if cfg.RecvBufferMax <= 0 {
		cfg.RecvBufferMax = maxRecvBuffer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 600 * time.Second
	}
	return &Server{
		logger:     logger,
		cfg:        cfg,
		broker:     broker,
		cb:         cb,
		errHandler: apperrors.NewErrorHandler(logger),
		clients:    make(map[string]*Client),
	}
}

// SetMetrics attaches a metrics exporter; share and client-count counters
// stay at zero until this is called, which app wiring does before Start.
func (s *Server) SetMetrics(m *metrics.Exporter) {
	s.metrics = m
}

// SetListenAddr overrides the bind address before Start is called.
func (s *Server) SetListenAddr(addr string) {
	s.cfg.ListenAddr = addr
}

// ListenAddr returns the address this server is bound (or will bind) to.
func (s *Server) ListenAddr() string {
	return s.cfg.ListenAddr
}

// Start binds the listener and launches the accept and idle-reaper
// goroutines; job broadcasts run on the caller of BroadcastJob.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("stratum: already running")
	}

	listener, err := listenTCP(s.cfg.ListenAddr, s.cfg.MaxClients)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("stratum: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.idleReaper()

	s.logger.Info("stratum server started", zap.String("addr", s.cfg.ListenAddr))
	return nil
}

// Stop closes the listener, stops every goroutine, and disconnects all
// clients.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.New("stratum: not running")
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*Client)
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.setState(stateClosed)
		c.conn.Close()
	}

	s.logger.Info("stratum server stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	defer apperrors.SafeRecover(s.logger, "stratum.acceptLoop")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				appErr := apperrors.NewError(apperrors.ErrorTypeNetwork, apperrors.SeverityLow, "ACCEPT_FAILED", "accept failed").WithError(err)
				s.errHandler.Handle(s.ctx, appErr)
				continue
			}
		}

		s.clientsMu.RLock()
		count := len(s.clients)
		s.clientsMu.RUnlock()
		if s.cfg.MaxClients > 0 && count >= s.cfg.MaxClients {
			conn.Close()
			continue
		}

		client := newClient(conn)
		s.clientsMu.Lock()
		s.clients[client.SessionID] = client
		s.clientsMu.Unlock()
		s.recordActiveClients()

		s.wg.Add(1)
		go s.clientLoop(client)
	}
}

func (s *Server) clientLoop(c *Client) {
	defer s.wg.Done()
	defer s.disconnect(c)
	defer apperrors.SafeRecover(s.logger, "stratum.clientLoop")

	buf := make([]byte, 4096)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}

		frames, err := s.appendAndExtractFrames(c, buf[:n])
		if err != nil {
			appErr := apperrors.NewError(apperrors.ErrorTypeProtocol, apperrors.SeverityLow, "RECV_BUFFER_EXCEEDED", "client exceeded recv buffer").
				WithError(err).WithContext("session", c.SessionID)
			s.errHandler.Handle(s.ctx, appErr)
			return
		}

		for _, frame := range frames {
			s.dispatch(c, frame)
		}

		c.touch()
	}
}

// appendAndExtractFrames appends newly read bytes to the client's
// recv_buffer and extracts every complete newline-delimited frame, all
// while the client goroutine alone owns recvBuf (single reader per
// client, no lock needed on this path). It returns an error once the
// buffer would exceed RecvBufferMax without a newline.
func (s *Server) appendAndExtractFrames(c *Client, chunk []byte) ([][]byte, error) {
	c.recvBuf = append(c.recvBuf, chunk...)

	var frames [][]byte
	for {
		idx := indexByte(c.recvBuf, '\n')
		if idx < 0 {
			break
		}
		frames = append(frames, c.recvBuf[:idx])
		c.recvBuf = c.recvBuf[idx+1:]
	}

	if len(c.recvBuf) > s.cfg.RecvBufferMax {
		return frames, fmt.Errorf("recv buffer exceeded %d bytes", s.cfg.RecvBufferMax)
	}
	return frames, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func (s *Server) disconnect(c *Client) {
	c.setState(stateClosed)
	c.conn.Close()

	s.clientsMu.Lock()
	delete(s.clients, c.SessionID)
	s.clientsMu.Unlock()
	s.recordActiveClients()
}

// recordActiveClients reports the current connected-client count to the
// metrics exporter, if one is attached.
func (s *Server) recordActiveClients() {
	if s.metrics == nil {
		return
	}
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()
	s.metrics.SetActiveClients(n)
}

// idleReaper disconnects clients idle beyond IdleTimeout. This resolves
// the open question of whether idle clients should be reaped: they are,
// on a default 600-second timeout.
func (s *Server) idleReaper() {
	defer s.wg.Done()
	defer apperrors.SafeRecover(s.logger, "stratum.idleReaper")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.clientsMu.RLock()
			var stale []*Client
			for _, c := range s.clients {
				if c.idleFor() > s.cfg.IdleTimeout {
					stale = append(stale, c)
				}
			}
			s.clientsMu.RUnlock()

			for _, c := range stale {
				s.logger.Debug("reaping idle client", zap.String("session", c.SessionID))
				s.disconnect(c)
			}
		}
	}
}

// BroadcastJob pushes the Monero-style job notification to every
// subscribed and authorized client, never while holding clientsMu during
// the outward send.
func (s *Server) BroadcastJob(job *jobbroker.Job) {
	s.clientsMu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.State() == stateAuthorized {
			targets = append(targets, c)
		}
	}
	s.clientsMu.RUnlock()

	msg := Message{
		JSONRPC: "2.0",
		Method:  "job",
		Params:  jobView(job),
	}

	for _, c := range targets {
		if err := s.send(c, &msg); err != nil {
			s.logger.Debug("broadcast send failed", zap.String("session", c.SessionID), zap.Error(err))
		}
	}
}

// Stats returns a snapshot for getstratuminfo.
func (s *Server) Stats() Stats {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()

	return Stats{
		Running:        s.running.Load(),
		Clients:        n,
		SharesAccepted: s.sharesAccepted.Load(),
		SharesRejected: s.sharesRejected.Load(),
		BlocksFound:    s.blocksFound.Load(),
	}
}

package rtsp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/avpkit/mjpegstream/internal/mjpeg"
)

const (
	defaultMaxPayloadSize = 1400
	defaultReapInterval   = time.Second
)

// idSource generates session ids. Uniqueness among live sessions is
// enforced by the registry, unpredictability is not required.
var (
	idMu     sync.Mutex
	idSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// ServerConfig configures the single-stream server.
type ServerConfig struct {
	// Address is the server address advertised in SDP and control URLs.
	Address string
	// Path is the stream path clients must request.
	Path string
	// MaxPayloadSize bounds one RTP payload. Defaults to 1400.
	MaxPayloadSize int
	// ReapInterval is how often closed sessions are swept from the
	// registry. Defaults to one second.
	ReapInterval time.Duration
}

// Server accepts control connections and owns the session registry. It
// broadcasts produced frames to every playing session; each session's
// control loop otherwise owns its own lifecycle.
type Server struct {
	cfg ServerConfig

	mu       sync.Mutex
	sessions map[uint32]*Session
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = defaultMaxPayloadSize
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	return &Server{
		cfg:      cfg,
		sessions: make(map[uint32]*Session),
	}
}

// Start listens on addr and serves until the context is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	conf := net.ListenConfig{}
	listener, err := conf.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts control connections from listener until the context is
// done, reaping closed sessions as it goes.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})

	group.Go(func() error {
		return s.reapLoop(ctx)
	})

	group.Go(func() error {
		for {
			nc, err := listener.Accept()
			switch {
			case errors.Is(err, net.ErrClosed):
				return nil
			case err != nil:
				return err
			default:
				s.accept(nc)
			}
		}
	})

	err := group.Wait()
	s.closeAll()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) accept(nc net.Conn) {
	connLog := log.WithFields(log.Fields{
		"conn":   uuid.NewString()[:8],
		"remote": nc.RemoteAddr().String(),
	})
	connLog.Info("accepted control connection")

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newSessionID()
	session, err := NewSession(nc, id, SessionConfig{
		ServerAddress:  s.cfg.Address,
		Path:           s.cfg.Path,
		MaxPayloadSize: s.cfg.MaxPayloadSize,
	})
	if err != nil {
		connLog.WithError(err).Error("failed to create session")
		nc.Close()
		return
	}
	s.sessions[id] = session
	connLog.WithField("session", id).Info("session created")
}

// newSessionID draws a random 32-bit id, re-rolling on collision with a
// live session. Callers hold s.mu.
func (s *Server) newSessionID() uint32 {
	idMu.Lock()
	defer idMu.Unlock()
	for {
		id := idSource.Uint32()
		if _, exists := s.sessions[id]; !exists {
			return id
		}
	}
}

// reapLoop polls the registry and drops sessions that reached their
// terminal state. Removal is polled, not event-driven.
func (s *Server) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Server) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.Closed() {
			session.Close()
			delete(s.sessions, id)
			log.WithField("session", id).Info("reaped closed session")
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		session.Close()
		delete(s.sessions, id)
	}
}

// SendFrame delivers one frame to every playing session. Per-session
// send failures are logged and do not stop the broadcast.
func (s *Server) SendFrame(frame *mjpeg.Frame) error {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if !session.Active() {
			continue
		}
		if err := session.SendFrame(frame); err != nil {
			log.WithError(err).WithField("session", session.ID()).
				Warn("failed to deliver frame")
		}
	}
	return nil
}

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

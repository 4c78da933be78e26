// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirigent-project/dirigent/lib/codec"
	"github.com/dirigent-project/dirigent/lib/event"
)

// Defaults applied by NewServer for zero-valued ServerConfig fields.
const (
	DefaultSendQueue    = 256
	DefaultWriteTimeout = 10 * time.Second
)

// ServerConfig holds the parameters for creating a [Server].
type ServerConfig struct {
	// SocketPath is where the Unix socket is created. A stale
	// socket file from a previous run is removed on Start.
	SocketPath string

	// Bus is the event bus whose stream the server relays.
	Bus *event.Bus

	// Pattern restricts which events are streamed. The zero value
	// streams everything.
	Pattern event.Pattern

	// SendQueue is the per-connection outgoing frame buffer. A
	// client that falls this many frames behind is disconnected.
	SendQueue int

	// WriteTimeout bounds each frame write. A connection that
	// cannot absorb a frame within it is dropped.
	WriteTimeout time.Duration

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Validate reports configuration errors.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("wire: SocketPath is required"))
	}
	if c.Bus == nil {
		errs = append(errs, fmt.Errorf("wire: Bus is required"))
	}
	if c.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("wire: SendQueue must not be negative"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("wire: WriteTimeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Server relays the bus event stream to clients over a Unix socket.
// Each accepted connection gets a Hello frame, a Backlog frame with
// the retained history, then live events as they are emitted. The
// emitter is never blocked on a client: frames queue per connection,
// and a client whose queue overflows is disconnected and counted in
// Dropped.
type Server struct {
	socketPath   string
	bus          *event.Bus
	pattern      event.Pattern
	sendQueue    int
	writeTimeout time.Duration
	logger       *slog.Logger

	listener net.Listener
	closed   atomic.Bool
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	dropped atomic.Uint64
}

// outFrame is one queued outgoing frame. eventID is set for event
// frames so the writer can skip events already sent in the backlog.
type outFrame struct {
	frameType FrameType
	payload   []byte
	eventID   string
}

// NewServer creates a Server. Zero-valued config fields take the
// package defaults; Start must be called before clients can connect.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Pattern.String() == "" {
		config.Pattern = event.MustGlob("*")
	}
	if config.SendQueue == 0 {
		config.SendQueue = DefaultSendQueue
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		socketPath:   config.SocketPath,
		bus:          config.Bus,
		pattern:      config.Pattern,
		sendQueue:    config.SendQueue,
		writeTimeout: config.WriteTimeout,
		logger:       config.Logger,
		conns:        make(map[net.Conn]struct{}),
	}, nil
}

// Start creates the socket and begins accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("wire: creating socket directory: %w", err)
	}

	// Remove a stale socket from a previous run.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wire: removing stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("wire: listening on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		listener.Close()
		os.Remove(s.socketPath)
		return fmt.Errorf("wire: setting socket permissions: %w", err)
	}

	s.logger.Info("wire server listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Close stops accepting, disconnects every client, waits for the
// connection goroutines to finish, and removes the socket file.
// Close is idempotent.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.Remove(s.socketPath)
	s.logger.Info("wire server stopped")

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("wire: closing listener: %w", err)
	}
	return nil
}

// Dropped returns the number of events discarded because a client's
// send queue overflowed. Each overflow also disconnects that client.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// ActiveClients returns the number of currently connected clients.
func (s *Server) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("wire accept", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// handle serves one client connection for its entire lifetime.
func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if !s.addConn(conn) {
		return
	}
	defer s.removeConn(conn)

	queue := make(chan outFrame, s.sendQueue)

	// Subscribe before snapshotting history. The bus records an
	// event in history before dispatching it, so everything emitted
	// from here on either appears in the snapshot or arrives through
	// the queue; the overlap between the two is removed by ID in the
	// write loop.
	listenerID, err := s.bus.Subscribe(s.pattern, func(ctx context.Context, ev event.Event) error {
		data, merr := codec.Marshal(ev)
		if merr != nil {
			s.logger.Warn("wire: encoding event", "type", ev.Type, "error", merr)
			return nil
		}
		select {
		case queue <- outFrame{frameType: FrameEvent, payload: data, eventID: ev.ID}:
		default:
			// The client is not draining its queue. Drop the
			// connection rather than stall the emitter.
			s.dropped.Add(1)
			conn.Close()
		}
		return nil
	}, event.SubscribeOptions{})
	if err != nil {
		s.logger.Error("wire: subscribing", "error", err)
		return
	}
	defer s.bus.Unsubscribe(listenerID)

	// The backlog honors the same pattern as the live stream.
	snapshot, _ := s.bus.HistorySnapshot()
	history := make([]event.Event, 0, len(snapshot))
	for _, ev := range snapshot {
		if s.pattern.Match(ev.Type) {
			history = append(history, ev)
		}
	}

	if err := s.sendHandshake(conn, history); err != nil {
		s.logger.Warn("wire: handshake", "error", err)
		return
	}

	backlogIDs := make(map[string]struct{}, len(history))
	for _, ev := range history {
		backlogIDs[ev.ID] = struct{}{}
	}

	readerDone := make(chan struct{})
	go s.readLoop(conn, queue, readerDone)

	s.writeLoop(conn, queue, backlogIDs, readerDone)
}

// sendHandshake writes the Hello and Backlog frames directly, before
// the write loop starts, so they always precede any live event.
func (s *Server) sendHandshake(conn net.Conn, history []event.Event) error {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))

	helloData, err := codec.Marshal(Hello{Version: ProtocolVersion, HistorySize: len(history)})
	if err != nil {
		return fmt.Errorf("encoding hello: %w", err)
	}
	if err := WriteFrame(conn, FrameHello, helloData); err != nil {
		return err
	}

	backlogData, err := codec.Marshal(Backlog{Events: history})
	if err != nil {
		return fmt.Errorf("encoding backlog: %w", err)
	}
	return WriteCompressedFrame(conn, FrameBacklog, backlogData, CompressionZstd)
}

// readLoop consumes client frames. Clients only send pings; closing
// the done channel tells the write loop the connection is finished,
// whether by EOF, read error, or protocol violation.
func (s *Server) readLoop(conn net.Conn, queue chan<- outFrame, done chan<- struct{}) {
	defer close(done)
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return
		}
		switch frame.Type {
		case FramePing:
			select {
			case queue <- outFrame{frameType: FramePong}:
			default:
				// Queue full: the event path is about to drop
				// this client anyway.
			}
		default:
			s.logger.Warn("wire: unexpected client frame", "type", frame.Type.String())
			return
		}
	}
}

// writeLoop drains the frame queue onto the connection. Events whose
// IDs were already sent in the backlog are skipped until the first
// novel event, after which the overlap set is released.
func (s *Server) writeLoop(conn net.Conn, queue <-chan outFrame, backlogIDs map[string]struct{}, readerDone <-chan struct{}) {
	for {
		select {
		case <-readerDone:
			return
		case frame := <-queue:
			if frame.frameType == FrameEvent && backlogIDs != nil {
				if _, sent := backlogIDs[frame.eventID]; sent {
					continue
				}
				backlogIDs = nil
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := writeRaw(conn, frame.frameType, CompressionNone, frame.payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) addConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

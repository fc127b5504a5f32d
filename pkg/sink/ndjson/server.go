package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/logflow/jsonimport/internal/model"
	"github.com/logflow/jsonimport/pkg/sink"
)

// HandlerFunc processes a request within one connection and returns a
// response payload or error.
type HandlerFunc func(ctx context.Context, conn *Conn, req Message) (any, error)

// Conn is the per-connection state seen by handlers.
type Conn struct {
	ID      string
	Client  string
	Session sink.Sink
	hello   bool
}

// Server accepts sink protocol connections and forwards every call to a
// session opened from its backend factory. It is meant for debugging and
// local pipelines, not as a durable ingestion service.
type Server struct {
	network  string
	address  string
	token    string
	backend  sink.Factory
	listener net.Listener
	handlers map[string]HandlerFunc
	conns    map[net.Conn]struct{}
	mu       sync.RWMutex
	ready    chan struct{}
	logger   *slog.Logger
}

// NewServer creates a server that forwards calls to sessions from backend.
// A non-empty token must be presented in every Hello.
func NewServer(network, address, token string, backend sink.Factory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if network == "" {
		network = "tcp"
	}
	s := &Server{
		network:  network,
		address:  address,
		token:    token,
		backend:  backend,
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		ready:    make(chan struct{}),
		logger:   logger,
	}
	s.registerDefaults()
	return s
}

// Handle registers a handler for a method, replacing any existing one.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, valid after Ready.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until ctx is canceled. A stale unix socket file
// is removed first.
func (s *Server) Start(ctx context.Context) error {
	if s.network == "unix" {
		if err := os.Remove(s.address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, s.network, s.address)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.network, s.address, err)
	}
	s.listener = ln
	close(s.ready)
	s.logger.Info("sink server listening", "network", s.network, "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // shutting down
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(ctx, conn)
	}
}

// Shutdown cleanly stops the server.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	if s.network == "unix" {
		os.Remove(s.address)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	c := &Conn{ID: uuid.NewString()}
	log := s.logger.With("conn", c.ID)

	defer func() {
		if c.Session != nil {
			if err := c.Session.Close(context.WithoutCancel(ctx)); err != nil {
				log.Error("closing backend session", "err", err)
			}
		}
		nc.Close()
		s.mu.Lock()
		delete(s.conns, nc)
		s.mu.Unlock()
		log.Debug("connection closed")
	}()

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Error("invalid message", "err", err)
			continue
		}

		if msg.Type != MsgTypeReq {
			continue
		}

		var resp Message
		handler, ok := s.handlers[msg.Method]
		switch {
		case !ok:
			resp = NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method))
		case !c.hello && msg.Method != MethodHello && msg.Method != MethodPing:
			resp = NewErrorResponse(msg.ID, msg.Method, "session not established; send Hello first")
		default:
			result, err := handler(ctx, c, msg)
			if err != nil {
				log.Warn("request failed", "method", msg.Method, "err", err)
				resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
			} else {
				resp, _ = NewResponse(msg.ID, msg.Method, result)
			}
		}
		s.writeMessage(nc, resp)
	}
}

func (s *Server) writeMessage(conn net.Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal response error", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Error("write response error", "err", err)
	}
}

func (s *Server) registerDefaults() {
	s.Handle(MethodPing, func(context.Context, *Conn, Message) (any, error) {
		return PingResponse{Pong: true}, nil
	})

	s.Handle(MethodHello, func(ctx context.Context, c *Conn, req Message) (any, error) {
		var hello HelloRequest
		if err := unmarshalData(req, &hello); err != nil {
			return nil, err
		}
		if s.token != "" && hello.Token != s.token {
			return nil, fmt.Errorf("authentication failed")
		}
		if c.Session == nil {
			session, err := s.backend.Open(ctx)
			if err != nil {
				return nil, fmt.Errorf("open backend session: %w", err)
			}
			c.Session = session
		}
		c.hello = true
		c.Client = hello.Client
		s.logger.Info("session established", "conn", c.ID, "client", hello.Client)
		return HelloResponse{Session: c.ID}, nil
	})

	s.Handle(MethodOpenTimeline, func(ctx context.Context, c *Conn, req Message) (any, error) {
		var r OpenTimelineRequest
		if err := unmarshalData(req, &r); err != nil {
			return nil, err
		}
		id, err := model.ParseTimelineID(r.TimelineID)
		if err != nil {
			return nil, fmt.Errorf("invalid timeline id: %w", err)
		}
		s.logger.Debug("open timeline", "conn", c.ID, "timeline", id.String())
		return nil, c.Session.OpenTimeline(ctx, id)
	})

	s.Handle(MethodDeclareKey, func(ctx context.Context, c *Conn, req Message) (any, error) {
		var r DeclareKeyRequest
		if err := unmarshalData(req, &r); err != nil {
			return nil, err
		}
		h, err := c.Session.DeclareKey(ctx, r.Key)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("declare key", "conn", c.ID, "key", r.Key, "handle", h)
		return DeclareKeyResponse{Handle: uint32(h)}, nil
	})

	s.Handle(MethodTimelineMetadata, func(ctx context.Context, c *Conn, req Message) (any, error) {
		var r TimelineMetadataRequest
		if err := unmarshalData(req, &r); err != nil {
			return nil, err
		}
		attrs, err := DecodeAttrs(r.Attrs)
		if err != nil {
			return nil, err
		}
		return nil, c.Session.SetTimelineMetadata(ctx, attrs)
	})

	s.Handle(MethodEvent, func(ctx context.Context, c *Conn, req Message) (any, error) {
		var r EventRequest
		if err := unmarshalData(req, &r); err != nil {
			return nil, err
		}
		ordering, err := parseOrdering(r.Ordering)
		if err != nil {
			return nil, err
		}
		attrs, err := DecodeAttrs(r.Attrs)
		if err != nil {
			return nil, err
		}
		return nil, c.Session.SendEvent(ctx, ordering, attrs)
	})
}

func unmarshalData(req Message, v any) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%s: missing request data", req.Method)
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return fmt.Errorf("%s: %w", req.Method, err)
	}
	return nil
}

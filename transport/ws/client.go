package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ceskypane/stormgo/events"
	"github.com/ceskypane/stormgo/logging"
	"github.com/ceskypane/stormgo/scene"
)

var (
	ErrConnClosed = errors.New("ws: connection closed")
	ErrBadToken   = errors.New("ws: connection token rejected")
)

type Config struct {
	Endpoint string

	HandshakeTimeout  time.Duration
	WriteDeadline     time.Duration
	KeepAliveInterval time.Duration
	WriteBuffer       int

	Logger logging.Logger
}

type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, endpoint string, header http.Header) (Conn, *http.Response, error)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (d *gorillaDialer) DialContext(ctx context.Context, endpoint string, header http.Header) (Conn, *http.Response, error) {
	return d.dialer.DialContext(ctx, endpoint, header)
}

// Connector dials scene connections over websocket. One Connector serves any
// number of scenes; each ConnectToScene call produces an independent
// connection.
type Connector struct {
	cfg    Config
	bus    *events.Bus
	dialer Dialer
	log    logging.Logger
}

func NewConnector(cfg Config, bus *events.Bus, dialer Dialer) *Connector {
	if bus == nil {
		bus = events.NewBus()
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 8 * time.Second
	}

	if cfg.WriteDeadline <= 0 {
		cfg.WriteDeadline = 10 * time.Second
	}

	if cfg.WriteBuffer <= 0 {
		cfg.WriteBuffer = 64
	}

	if dialer == nil {
		dialer = &gorillaDialer{dialer: websocket.DefaultDialer}
	}

	return &Connector{
		cfg:    cfg,
		bus:    bus,
		dialer: dialer,
		log:    logging.With(cfg.Logger),
	}
}

// ConnectToScene dials the endpoint, presents the connection token and waits
// for the server to confirm the scene binding.
func (c *Connector) ConnectToScene(ctx context.Context, token string) (scene.Scene, error) {
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, headers)
	if err != nil {
		return nil, err
	}

	sceneID, err := c.handshake(ctx, conn, token)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	sc := &sceneConn{
		id:       sceneID,
		cfg:      c.cfg,
		bus:      c.bus,
		conn:     conn,
		log:      c.log,
		sendCh:   make(chan frame, c.cfg.WriteBuffer),
		pending:  make(map[string]chan frame),
		routes:   make(map[string]scene.Handler),
		watchers: make(map[uint64]func(scene.ConnectionState)),
		closed:   make(chan struct{}),
	}
	sc.state = scene.ConnectionState{State: scene.StateConnected}

	sc.wg.Add(2)
	go sc.readLoop()
	go sc.writeLoop()
	if c.cfg.KeepAliveInterval > 0 {
		sc.wg.Add(1)
		go sc.keepAliveLoop()
	}

	c.log.Info("scene connected", logging.F("scene_id", sceneID), logging.F("endpoint", c.cfg.Endpoint))
	_ = c.bus.Emit(events.SceneStateChanged{
		Base:    events.Base{At: time.Now().UTC()},
		SceneID: sceneID,
		State:   string(scene.StateConnected),
	})

	return sc, nil
}

func (c *Connector) handshake(ctx context.Context, conn Conn, token string) (string, error) {
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", err
	}

	raw, err := encodeFrame(frame{Kind: frameConnect, Payload: payload})
	if err != nil {
		return "", err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return "", err
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}

		f, err := decodeFrame(msg)
		if err != nil {
			continue
		}

		switch f.Kind {
		case frameConnected:
			if f.Route == "" {
				return "", fmt.Errorf("ws: handshake reply missing scene id")
			}

			_ = conn.SetReadDeadline(time.Time{})
			return f.Route, nil
		case frameError:
			return "", fmt.Errorf("%w: %s", ErrBadToken, f.Error)
		}
	}
}

type sceneConn struct {
	id   string
	cfg  Config
	bus  *events.Bus
	conn Conn
	log  logging.Logger

	sendCh chan frame
	closed chan struct{}

	mu        sync.Mutex
	pending   map[string]chan frame
	routes    map[string]scene.Handler
	watchers  map[uint64]func(scene.ConnectionState)
	watcherID uint64
	state     scene.ConnectionState
	closing   bool

	shutdownOnce sync.Once

	wg sync.WaitGroup
}

func (s *sceneConn) ID() string {
	return s.id
}

func (s *sceneConn) AddRoute(route string, h scene.Handler) {
	if route == "" || h == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[route] = h
}

func (s *sceneConn) OnStateChanged(fn func(scene.ConnectionState)) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.watcherID
	s.watcherID++
	s.watchers[id] = fn
	current := s.state
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.watchers, id)
	}
}

func (s *sceneConn) Rpc(ctx context.Context, route string, args any, out any) error {
	payload, err := marshalArgs(args)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	replyCh := make(chan frame, 1)

	s.mu.Lock()
	if s.state.State != scene.StateConnected {
		s.mu.Unlock()
		return scene.ErrDisconnected
	}
	s.pending[id] = replyCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	req := frame{Kind: frameRPC, ID: id, Route: route, Payload: payload}
	if err := s.enqueue(ctx, req); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrConnClosed
	case reply := <-replyCh:
		if reply.Kind == frameError {
			return &scene.RemoteError{Route: route, ID: reply.ErrorID, Message: reply.Error}
		}

		if out == nil || len(reply.Payload) == 0 {
			return nil
		}

		return json.Unmarshal(reply.Payload, out)
	}
}

func (s *sceneConn) Send(ctx context.Context, route string, args any) error {
	payload, err := marshalArgs(args)
	if err != nil {
		return err
	}

	return s.enqueue(ctx, frame{Kind: framePush, Route: route, Payload: payload})
}

func (s *sceneConn) enqueue(ctx context.Context, f frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrConnClosed
	case s.sendCh <- f:
		return nil
	}
}

func (s *sceneConn) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.setState(scene.ConnectionState{State: scene.StateDisconnecting})

	// Best effort: tell the server we are leaving before tearing the socket
	// down.
	raw, err := encodeFrame(frame{Kind: frameClose})
	if err == nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
		_ = s.conn.WriteMessage(websocket.TextMessage, raw)
	}

	_ = s.conn.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *sceneConn) readLoop() {
	defer s.wg.Done()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(closeReason(err))
			return
		}

		f, decodeErr := decodeFrame(msg)
		if decodeErr != nil {
			s.log.Warn("scene frame decode failed", logging.F("scene_id", s.id), logging.F("error", decodeErr.Error()))
			continue
		}

		switch f.Kind {
		case frameResult, frameError:
			s.mu.Lock()
			replyCh, ok := s.pending[f.ID]
			if ok {
				delete(s.pending, f.ID)
			}
			s.mu.Unlock()

			if ok {
				replyCh <- f
			}
		case framePush:
			s.mu.Lock()
			handler := s.routes[f.Route]
			s.mu.Unlock()

			if handler == nil {
				s.log.Debug("scene push for unknown route", logging.F("scene_id", s.id), logging.F("route", f.Route))
				continue
			}

			// Handlers run inline so pushes keep server-send order.
			handler(context.Background(), f.Payload)
		case frameClose:
			s.shutdown(f.Error)
			return
		}
	}
}

func (s *sceneConn) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closed:
			return
		case f := <-s.sendCh:
			raw, err := encodeFrame(f)
			if err != nil {
				s.log.Warn("scene frame encode failed", logging.F("error", err.Error()))
				continue
			}

			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.shutdown(closeReason(err))
				return
			}
		}
	}
}

func (s *sceneConn) keepAliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown(closeReason(err))
				return
			}
		}
	}
}

// shutdown transitions the scene to Disconnected exactly once, failing every
// pending RPC and notifying state watchers. Pending RPCs receive their
// failure reply before the closed channel fires so waiters observe the
// failure, not a generic close.
func (s *sceneConn) shutdown(reason string) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		pending := s.pending
		s.pending = make(map[string]chan frame)
		s.mu.Unlock()

		for _, replyCh := range pending {
			replyCh <- frame{Kind: frameError, ErrorID: "scene.disconnected", Error: reason}
		}

		close(s.closed)
		_ = s.conn.Close()

		s.setState(scene.ConnectionState{State: scene.StateDisconnected, Reason: reason})

		s.log.Info("scene disconnected", logging.F("scene_id", s.id), logging.F("reason", reason))
		_ = s.bus.Emit(events.SceneStateChanged{
			Base:    events.Base{At: time.Now().UTC()},
			SceneID: s.id,
			State:   string(scene.StateDisconnected),
			Reason:  reason,
		})
	})
}

func (s *sceneConn) setState(state scene.ConnectionState) {
	s.mu.Lock()
	if s.state.State == scene.StateDisconnected {
		// Terminal.
		s.mu.Unlock()
		return
	}

	s.state = state
	watchers := make([]func(scene.ConnectionState), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(state)
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Text != "" {
		return closeErr.Text
	}

	if err != nil {
		return err.Error()
	}

	return ""
}

func marshalArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	return raw, nil
}

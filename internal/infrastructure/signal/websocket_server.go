package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/core/services"
	rlog "camstream/pkg/logger"
	"camstream/pkg/tracing"
	"camstream/pkg/utils"
	"camstream/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errNoBroadcaster   = errors.New("no broadcaster for session")
	errNotConnected    = errors.New("first message must be connect")
	errAlreadyJoined   = errors.New("connection already joined a session")
	errRateLimited     = errors.New("message rate limit exceeded")
	errWrongRole       = errors.New("message not allowed for this role")
	errUnexpectedType  = errors.New("unexpected message type")
	errSessionMismatch = errors.New("session code does not match connection")
)

// ServerConfig tunes the rendezvous server.
type ServerConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	MessagesPerSecond float64
	MessageBurst      int
	AllowedOrigins    []string
	AuthRequired      bool
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    64 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		AllowedOrigins:    []string{"*"},
	}
}

// WebSocketServer pairs broadcasters and viewers by session code and relays
// offers, answers and candidates between them.
type WebSocketServer struct {
	registry ports.SessionRegistry
	auth     services.AuthService
	metrics  ports.Metrics
	cfg      ServerConfig
	upgrader websocket.Upgrader

	rooms       map[domain.SessionCode]*room
	connections map[string]*client
	mu          sync.RWMutex

	logger    *zap.SugaredLogger
	ctxLogger *rlog.ContextLogger
}

// room is the relay state of one session. The broadcaster's latest offer and
// its candidates are kept so that viewers joining later can be served.
type room struct {
	broadcaster *client
	viewers     map[string]*client
	offer       *domain.OfferMessage
	candidates  []domain.ICECandidateMessage
}

func (r *room) viewerList() []*client {
	out := make([]*client, 0, len(r.viewers))
	for _, v := range r.viewers {
		out = append(out, v)
	}
	return out
}

type client struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	code   domain.SessionCode
	role   domain.Role
	joined bool

	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *client) send(msg domain.Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *client) sendError(message string) {
	_ = c.send(domain.ErrorMessage{Message: message})
}

func NewWebSocketServer(
	registry ports.SessionRegistry,
	auth services.AuthService, // nil disables token checks
	cfg ServerConfig,
	logger *zap.SugaredLogger,
	metrics ports.Metrics,
) *WebSocketServer {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	s := &WebSocketServer{
		registry:    registry,
		auth:        auth,
		metrics:     metrics,
		cfg:         cfg,
		rooms:       make(map[domain.SessionCode]*room),
		connections: make(map[string]*client),
		logger:      logger,
		ctxLogger:   rlog.NewContextLogger(logger),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:           utils.GenerateConnectionID(),
		conn:         conn,
		limiter:      rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst),
		writeTimeout: s.cfg.WriteTimeout,
	}
	if s.cfg.MessagesPerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()
	s.metrics.ConnectionsChanged(1)

	ctx := r.Context()

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			select {
			case messageChan <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case data := <-messageChan:
			msg, err := Decode(data)
			if err != nil {
				s.ctxLogger.LogWarn(ctx, "dropping malformed signaling message", "connection_id", c.id, "error", err)
				c.sendError(err.Error())
				continue
			}

			if !c.joined {
				connect, ok := msg.(domain.ConnectMessage)
				if !ok {
					c.sendError(errNotConnected.Error())
					goto cleanup
				}
				if err := s.join(r, c, connect); err != nil {
					s.logger.Infow("rejecting connect", "connection_id", c.id, "session_code", connect.SessionCode, "error", err)
					c.sendError(err.Error())
					goto cleanup
				}
				ctx = rlog.WithSession(ctx, string(c.code), string(c.role), c.id)
				continue
			}

			if !c.limiter.Allow() {
				c.sendError(errRateLimited.Error())
				continue
			}

			if err := s.handleMessage(ctx, c, msg); err != nil {
				s.ctxLogger.LogInfo(ctx, "error handling signaling message", "type", msg.Type(), "error", err)
				c.sendError(err.Error())
			}

		case <-pingTicker.C:
			if err := c.ping(); err != nil {
				s.logger.Infow("error sending ping", "connection_id", c.id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "connection_id", c.id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.leave(c)

	s.mu.Lock()
	delete(s.connections, c.id)
	s.mu.Unlock()
	s.metrics.ConnectionsChanged(-1)

	s.logger.Infow("signaling connection closed", "connection_id", c.id, "session_code", c.code, "role", c.role)
}

// join binds c to the session named in msg, acknowledges it and, for a
// viewer, replays the broadcaster's cached offer and candidates.
func (s *WebSocketServer) join(r *http.Request, c *client, msg domain.ConnectMessage) error {
	if err := validation.ValidateSessionCode(string(msg.SessionCode)); err != nil {
		return err
	}
	if err := s.authorize(r.Context(), msg.SessionCode, msg.Role); err != nil {
		return err
	}

	c.code, c.role, c.joined = msg.SessionCode, msg.Role, true

	var (
		replaced *client
		replay   []domain.Message
	)

	s.mu.Lock()
	rm, ok := s.rooms[msg.SessionCode]
	if !ok {
		rm = &room{viewers: make(map[string]*client)}
		s.rooms[msg.SessionCode] = rm
	}
	switch msg.Role {
	case domain.RoleBroadcaster:
		replaced = rm.broadcaster
		rm.broadcaster = c
		rm.offer = nil
		rm.candidates = nil
	case domain.RoleViewer:
		rm.viewers[c.id] = c
		if rm.offer != nil {
			replay = append(replay, *rm.offer)
			for _, cand := range rm.candidates {
				replay = append(replay, cand)
			}
		}
	}
	s.mu.Unlock()

	if replaced != nil {
		s.logger.Infow("replacing broadcaster connection", "session_code", msg.SessionCode, "old_connection_id", replaced.id, "connection_id", c.id)
		replaced.conn.Close()
	}

	if err := s.registry.Register(r.Context(), msg.SessionCode, msg.Role, c.id); err != nil {
		s.logger.Warnw("failed to register connection", "session_code", msg.SessionCode, "connection_id", c.id, "error", err)
	}

	if err := c.send(domain.ConnectedMessage{}); err != nil {
		return fmt.Errorf("failed to acknowledge connect: %w", err)
	}
	for _, m := range replay {
		if err := c.send(m); err != nil {
			return fmt.Errorf("failed to replay %s: %w", m.Type(), err)
		}
	}

	s.logger.Infow("peer joined session",
		"session_code", msg.SessionCode,
		"role", msg.Role,
		"connection_id", c.id,
		"replayed", len(replay),
	)
	return nil
}

func (s *WebSocketServer) authorize(ctx context.Context, code domain.SessionCode, role domain.Role) error {
	if s.auth == nil {
		return nil
	}
	claims, ok := services.ClaimsFromContext(ctx)
	if !ok {
		if s.cfg.AuthRequired {
			return services.ErrUnauthorized
		}
		return nil
	}
	return s.auth.Authorize(claims, code, role)
}

func (s *WebSocketServer) leave(c *client) {
	if !c.joined {
		return
	}

	var notify []*client

	s.mu.Lock()
	if rm, ok := s.rooms[c.code]; ok {
		switch c.role {
		case domain.RoleBroadcaster:
			// A replaced broadcaster must not tear down its successor's state.
			if rm.broadcaster == c {
				rm.broadcaster = nil
				rm.offer = nil
				rm.candidates = nil
				notify = rm.viewerList()
			}
		case domain.RoleViewer:
			delete(rm.viewers, c.id)
		}
		if rm.broadcaster == nil && len(rm.viewers) == 0 {
			delete(s.rooms, c.code)
		}
	}
	s.mu.Unlock()

	for _, v := range notify {
		if err := v.send(domain.PeerDisconnectedMessage{}); err != nil {
			s.logger.Debugw("failed to notify viewer", "connection_id", v.id, "error", err)
		}
	}

	if err := s.registry.Unregister(context.Background(), c.code, c.role, c.id); err != nil {
		s.logger.Warnw("failed to unregister connection", "session_code", c.code, "connection_id", c.id, "error", err)
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, c *client, msg domain.Message) error {
	ctx, span := tracing.TraceSignalingMessage(ctx, string(msg.Type()), string(c.code), c.id)
	defer span.End()

	var err error
	switch m := msg.(type) {
	case domain.PingMessage:
		err = c.send(domain.PongMessage{Timestamp: m.Timestamp})
	case domain.PongMessage:
	case domain.OfferMessage:
		err = s.handleOffer(ctx, c, m)
	case domain.AnswerMessage:
		err = s.handleAnswer(ctx, c, m)
	case domain.ICECandidateMessage:
		err = s.handleICECandidate(ctx, c, m)
	case domain.ConnectMessage:
		err = errAlreadyJoined
	default:
		err = fmt.Errorf("%w: %s", errUnexpectedType, msg.Type())
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	s.metrics.SignalingMessageRelayed(msg.Type())
	return nil
}

func (s *WebSocketServer) handleOffer(ctx context.Context, c *client, msg domain.OfferMessage) error {
	if c.role != domain.RoleBroadcaster {
		return fmt.Errorf("%w: offer from %s", errWrongRole, c.role)
	}
	if err := s.checkSession(c, msg.SessionCode); err != nil {
		return err
	}
	if err := validation.ValidateSDP(msg.SDP); err != nil {
		return fmt.Errorf("invalid SDP in offer: %w", err)
	}
	msg.SessionCode = c.code

	s.mu.Lock()
	rm := s.rooms[c.code]
	rm.offer = &msg
	rm.candidates = nil
	viewers := rm.viewerList()
	s.mu.Unlock()

	s.ctxLogger.LogInfo(ctx, "routing offer", "viewers", len(viewers), "sdp_length", len(msg.SDP))
	s.fanOut(ctx, viewers, msg)
	return nil
}

func (s *WebSocketServer) handleAnswer(ctx context.Context, c *client, msg domain.AnswerMessage) error {
	if c.role != domain.RoleViewer {
		return fmt.Errorf("%w: answer from %s", errWrongRole, c.role)
	}
	if err := s.checkSession(c, msg.SessionCode); err != nil {
		return err
	}
	if err := validation.ValidateSDP(msg.SDP); err != nil {
		return fmt.Errorf("invalid SDP in answer: %w", err)
	}
	msg.SessionCode = c.code

	target := s.broadcasterOf(c.code)
	if target == nil {
		return errNoBroadcaster
	}

	s.ctxLogger.LogInfo(ctx, "routing answer", "to_connection", target.id, "sdp_length", len(msg.SDP))
	return target.send(msg)
}

func (s *WebSocketServer) handleICECandidate(ctx context.Context, c *client, msg domain.ICECandidateMessage) error {
	if err := s.checkSession(c, msg.SessionCode); err != nil {
		return err
	}
	if err := validation.ValidateCandidate(msg.Candidate); err != nil {
		return err
	}
	msg.SessionCode = c.code

	if c.role == domain.RoleBroadcaster {
		s.mu.Lock()
		rm := s.rooms[c.code]
		rm.candidates = append(rm.candidates, msg)
		viewers := rm.viewerList()
		s.mu.Unlock()

		s.ctxLogger.LogDebug(ctx, "routing ICE candidate to viewers", "viewers", len(viewers))
		s.fanOut(ctx, viewers, msg)
		return nil
	}

	target := s.broadcasterOf(c.code)
	if target == nil {
		return errNoBroadcaster
	}
	s.ctxLogger.LogDebug(ctx, "routing ICE candidate to broadcaster", "to_connection", target.id)
	return target.send(msg)
}

func (s *WebSocketServer) checkSession(c *client, code domain.SessionCode) error {
	if code != "" && code != c.code {
		return fmt.Errorf("%w: %s", errSessionMismatch, code)
	}
	return nil
}

func (s *WebSocketServer) broadcasterOf(code domain.SessionCode) *client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rm, ok := s.rooms[code]; ok {
		return rm.broadcaster
	}
	return nil
}

func (s *WebSocketServer) fanOut(ctx context.Context, targets []*client, msg domain.Message) {
	for _, t := range targets {
		if err := t.send(msg); err != nil {
			s.ctxLogger.LogWarn(ctx, "failed to relay message", "type", msg.Type(), "to_connection", t.id, "error", err)
		}
	}
}

// Stats reports the number of live sessions and websocket connections.
func (s *WebSocketServer) Stats() (sessions, connections int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), len(s.connections)
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sessions, connections := s.Stats()
	if n, err := s.registry.ActiveSessions(r.Context()); err == nil {
		sessions = n
	} else {
		s.logger.Warnw("failed to count sessions from registry", "error", err)
	}

	response := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().Unix(),
		"active_sessions": sessions,
		"connections":     connections,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// IsBroadcasting reports whether a broadcaster is currently attached to code.
func (s *WebSocketServer) IsBroadcasting(code domain.SessionCode) bool {
	return s.broadcasterOf(code) != nil
}

package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/treestore"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 1 << 20
	sendBuffer   = 256
)

// Server serves the realtime protocol for one tree store. Every
// connection gets its own signed-out session.
type Server struct {
	store    *treestore.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	tokens map[string]gateway.Identity
}

func NewServer(store *treestore.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:  store,
		logger: logger.Named("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns:  make(map[*conn]struct{}),
		tokens: make(map[string]gateway.Identity),
	}
}

// Router mounts the realtime endpoint, a health check and metrics.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(RealtimePath, s.ServeRealtime).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// ServeRealtime upgrades the request and serves frames until the peer
// goes away.
func (s *Server) ServeRealtime(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{
		srv:  s,
		ws:   ws,
		sess: s.store.NewSession(),
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]func()),
		log:  s.logger.With(zap.String("remote", r.RemoteAddr)),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	metrics.HubConnections.Inc()
	c.log.Debug("connection opened")

	go c.writePump()
	c.readPump()
}

// Close drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// issue records a resume token for id. Tokens live as long as the hub
// process or until the identity signs out.
func (s *Server) issue(id gateway.Identity) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = id
	s.mu.Unlock()
	return token
}

func (s *Server) resume(token string) (gateway.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	return id, ok
}

func (s *Server) revoke(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *Server) forget(c *conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if ok {
		metrics.HubConnections.Dec()
	}
}

type conn struct {
	srv  *Server
	ws   *websocket.Conn
	sess *treestore.Session
	log  *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	subs   map[string]func()
	token  string
}

func (c *conn) readPump() {
	defer c.shutdown()
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		c.enqueue(c.handle(&req))
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a frame to the writer. A peer too slow to drain its buffer
// is disconnected.
func (c *conn) enqueue(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		c.log.Error("encode frame", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warn("send buffer full, dropping connection")
		c.closed = true
		close(c.send)
	}
}

func (c *conn) shutdown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]func())
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	c.srv.forget(c)
	c.log.Debug("connection closed", zap.Int("subscriptions", len(subs)))
}

func (c *conn) handle(req *Request) Frame {
	ctx := context.Background()
	res := Frame{ID: req.ID, OK: true}
	fail := func(err error) Frame {
		return Frame{ID: req.ID, Error: errorBody(err)}
	}

	switch req.Op {
	case opNow:
		res.Value = c.sess.Now()
		return res
	case opSignIn, opSignUp:
		var id gateway.Identity
		var err error
		if req.Op == opSignIn {
			id, err = c.sess.SignIn(ctx, req.Email, req.Password)
		} else {
			id, err = c.sess.SignUp(ctx, req.Email, req.Password, req.DisplayName)
		}
		if err != nil {
			return fail(err)
		}
		c.log.Info("identity bound", zap.String("user_id", id.UID), zap.String("op", req.Op))
		res.Identity = &Identity{UID: id.UID, Email: id.Email, DisplayName: id.DisplayName}
		res.Token = c.srv.issue(id)
		c.srv.revoke(c.setToken(res.Token))
		return res
	case opResume:
		id, ok := c.srv.resume(req.Token)
		if !ok {
			return fail(model.Errorf(model.Unauthenticated, "resume", "session expired"))
		}
		c.sess.Bind(id)
		if prev := c.setToken(req.Token); prev != req.Token {
			c.srv.revoke(prev)
		}
		c.log.Info("identity resumed", zap.String("user_id", id.UID))
		res.Identity = &Identity{UID: id.UID, Email: id.Email, DisplayName: id.DisplayName}
		res.Token = req.Token
		return res
	case opSignOut:
		if err := c.sess.SignOut(ctx); err != nil {
			return fail(err)
		}
		c.srv.revoke(c.setToken(""))
		return res
	case opDeleteIdentity:
		if err := c.sess.DeleteIdentity(ctx); err != nil {
			return fail(err)
		}
		c.srv.revoke(c.setToken(""))
		return res
	}

	if _, ok := c.sess.Current(); !ok {
		return fail(model.ErrNotSignedIn)
	}
	switch req.Op {
	case opGet:
		snap, err := c.sess.Get(ctx, req.Path)
		if err != nil {
			return fail(err)
		}
		res.Value, res.Exists = snap.Value, snap.Exists()
	case opSet:
		if err := c.sess.Set(ctx, req.Path, req.Value); err != nil {
			return fail(err)
		}
	case opUpdate:
		if err := c.sess.Update(ctx, req.Updates); err != nil {
			return fail(err)
		}
	case opDelete:
		if err := c.sess.Delete(ctx, req.Path); err != nil {
			return fail(err)
		}
	case opSubscribe:
		if err := c.subscribe(req.Sub, req.Path); err != nil {
			return fail(err)
		}
	case opUnsubscribe:
		c.mu.Lock()
		unsub := c.subs[req.Sub]
		delete(c.subs, req.Sub)
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	default:
		return fail(model.Errorf(model.Invalid, "hub", "unknown op %q", req.Op))
	}
	return res
}

// setToken swaps the connection's resume token and returns the previous one.
func (c *conn) setToken(token string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.token
	c.token = token
	return prev
}

func (c *conn) subscribe(sub, path string) error {
	if sub == "" {
		return model.Errorf(model.Invalid, "subscribe", "missing subscription id")
	}
	c.mu.Lock()
	_, dup := c.subs[sub]
	c.mu.Unlock()
	if dup {
		return model.Errorf(model.Invalid, "subscribe", "subscription %s already exists", sub)
	}
	unsub, err := c.sess.Subscribe(path, func(snap gateway.Snapshot) {
		c.enqueue(Frame{Sub: sub, Path: snap.Path, Value: snap.Value, Exists: snap.Exists()})
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.subs[sub] = unsub
	c.mu.Unlock()
	return nil
}

package wsgateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// ErrClosed is returned for calls on a closed client or while the hub
// connection is down.
var ErrClosed = errors.New("gateway connection closed")

// Client is a gateway.Gateway backed by a hub connection. A dropped
// connection is redialed in the background; the signed-in identity and
// live subscriptions are restored on the new connection.
type Client struct {
	url    string
	policy func() backoff.BackOff
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	ws       *websocket.Conn
	nextID   uint64
	pending  map[uint64]chan Frame
	subs     map[string]*subscriber
	current  gateway.Identity
	signedIn bool
	token    string
	closed   bool

	listeners gateway.Listeners
	links     linkListeners

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

var (
	_ gateway.Gateway = (*Client)(nil)
	_ gateway.Link    = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithBackoff sets the redial policy. policy is called once per outage.
func WithBackoff(policy func() backoff.BackOff) Option {
	return func(c *Client) { c.policy = policy }
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Dial connects to a hub's realtime endpoint, e.g.
// ws://localhost:8787/v1/realtime. Only the first connection attempt is
// synchronous.
func Dial(ctx context.Context, url string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:     url,
		policy:  defaultBackoff,
		logger:  logger.Named("gateway"),
		pending: make(map[uint64]chan Frame),
		subs:    make(map[string]*subscriber),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	ws, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.attach(ws)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, model.Wrap(model.Transient, "dial hub", err)
	}
	ws.SetReadLimit(maxFrameSize)
	return ws, nil
}

// attach makes ws the live connection unless the client was closed.
func (c *Client) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = ws.Close()
		return false
	}
	c.ws = ws
	c.wg.Add(1)
	go c.readLoop(ws)
	return true
}

// Close ends the connection and stops redialing. Pending calls fail with
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	var err error
	if ws != nil {
		err = ws.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscriber)
	c.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
	close(c.done)
	c.logger.Debug("hub connection closed")
	return err
}

// OnConnectionChanged registers fn for hub connection loss and recovery.
func (c *Client) OnConnectionChanged(fn func(connected bool)) func() {
	return c.links.add(fn)
}

// Connected reports whether a hub connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Client) readLoop(ws *websocket.Conn) {
	defer c.wg.Done()
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			c.lost(ws, err)
			return
		}
		if f.ID == 0 {
			c.push(f)
			continue
		}
		c.mu.Lock()
		ch := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- f
		}
	}
}

// lost fails the calls in flight on ws and, unless the client is closing,
// starts redialing. Subscribers are kept for restore.
func (c *Client) lost(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	closed := c.closed
	if !closed {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	_ = ws.Close()
	if closed {
		return
	}
	c.logger.Warn("hub connection lost", zap.String("url", c.url), zap.Error(err))
	c.links.notify(false)
	go c.redial()
}

func (c *Client) redial() {
	defer c.wg.Done()
	var ws *websocket.Conn
	connect := func() error {
		ctx, cancel := context.WithTimeout(c.ctx, writeWait)
		defer cancel()
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		if !c.attach(conn) {
			return backoff.Permanent(ErrClosed)
		}
		ws = conn
		return nil
	}
	policy := backoff.WithContext(c.policy(), c.ctx)
	err := backoff.RetryNotify(connect, policy, func(err error, wait time.Duration) {
		c.logger.Debug("hub redial failed", zap.Duration("retry_in", wait), zap.Error(err))
	})
	if err != nil {
		return
	}
	metrics.HubReconnects.Inc()
	c.logger.Info("hub connection restored", zap.String("url", c.url))
	c.restore(ws)
}

// restore resumes the identity and resubscribes every live subscriber on
// ws. A rejected resume token means the hub no longer knows the session,
// which is reported as a sign out.
func (c *Client) restore(ws *websocket.Conn) {
	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		_, err := c.call(ctx, Request{Op: opResume, Token: token})
		switch {
		case errors.Is(err, model.Unauthenticated):
			c.logger.Warn("hub session expired", zap.Error(err))
			c.cleared()
		case err != nil:
			c.logger.Warn("resume failed", zap.Error(err))
			return
		}
	}

	c.mu.Lock()
	subs := make(map[string]string, len(c.subs))
	for id, s := range c.subs {
		subs[id] = s.path
	}
	c.mu.Unlock()
	for id, path := range subs {
		if _, err := c.call(ctx, Request{Op: opSubscribe, Path: path, Sub: id}); err != nil {
			c.logger.Debug("resubscribe failed", zap.String("path", path), zap.Error(err))
		}
	}

	c.mu.Lock()
	live := c.ws == ws
	c.mu.Unlock()
	if live {
		c.links.notify(true)
	}
}

func (c *Client) push(f Frame) {
	c.mu.Lock()
	s := c.subs[f.Sub]
	c.mu.Unlock()
	if s == nil {
		return
	}
	var v any
	if f.Exists {
		v = f.Value
	}
	s.offer(gateway.Snapshot{Path: f.Path, Value: v})
}

func (c *Client) call(ctx context.Context, req Request) (Frame, error) {
	ch := make(chan Frame, 1)
	c.mu.Lock()
	ws := c.ws
	if c.closed || ws == nil {
		c.mu.Unlock()
		return Frame{}, model.Wrap(model.Transient, req.Op, ErrClosed)
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(dl)
	} else {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	}
	err := ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return Frame{}, model.Wrap(model.Transient, req.Op, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return Frame{}, model.Wrap(model.Transient, req.Op, ErrClosed)
		}
		if f.Error != nil {
			return Frame{}, f.Error.err(req.Op)
		}
		return f, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return Frame{}, model.Wrap(model.Transient, req.Op, ctx.Err())
	}
}

func (c *Client) Get(ctx context.Context, path string) (gateway.Snapshot, error) {
	f, err := c.call(ctx, Request{Op: opGet, Path: path})
	if err != nil {
		return gateway.Snapshot{}, err
	}
	snap := gateway.Snapshot{Path: path}
	if f.Exists {
		snap.Value = f.Value
	}
	return snap, nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	_, err := c.call(ctx, Request{Op: opSet, Path: path, Value: value})
	return err
}

func (c *Client) Update(ctx context.Context, updates map[string]any) error {
	_, err := c.call(ctx, Request{Op: opUpdate, Updates: updates})
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.call(ctx, Request{Op: opDelete, Path: path})
	return err
}

// NewKey is generated locally; keys are UUIDv7 on both sides.
func (c *Client) NewKey() string { return gateway.NewKey() }

// Now returns the hub's clock in epoch milliseconds.
func (c *Client) Now(ctx context.Context) (int64, error) {
	f, err := c.call(ctx, Request{Op: opNow})
	if err != nil {
		return 0, err
	}
	n, ok := model.Int64(f.Value)
	if !ok {
		return 0, model.Errorf(model.Invalid, opNow, "bad clock value")
	}
	return n, nil
}

// Subscribe registers fn before asking the hub, so the initial snapshot
// cannot race the registration.
func (c *Client) Subscribe(path string, fn func(gateway.Snapshot)) (func(), error) {
	id := gateway.NewKey()
	s := newSubscriber(path, fn)
	c.mu.Lock()
	c.subs[id] = s
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if _, err := c.call(ctx, Request{Op: opSubscribe, Path: path, Sub: id}); err != nil {
		c.dropSub(id)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if !c.dropSub(id) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if _, err := c.call(ctx, Request{Op: opUnsubscribe, Sub: id}); err != nil {
				c.logger.Debug("unsubscribe failed", zap.String("path", path), zap.Error(err))
			}
		})
	}, nil
}

func (c *Client) dropSub(id string) bool {
	c.mu.Lock()
	s := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if s != nil {
		s.stop()
	}
	return s != nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (gateway.Identity, error) {
	return c.bind(ctx, Request{Op: opSignIn, Email: email, Password: password})
}

func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (gateway.Identity, error) {
	return c.bind(ctx, Request{Op: opSignUp, Email: email, Password: password, DisplayName: displayName})
}

func (c *Client) bind(ctx context.Context, req Request) (gateway.Identity, error) {
	f, err := c.call(ctx, req)
	if err != nil {
		return gateway.Identity{}, err
	}
	if f.Identity == nil {
		return gateway.Identity{}, model.Errorf(model.Transient, req.Op, "hub returned no identity")
	}
	id := gateway.Identity{UID: f.Identity.UID, Email: f.Identity.Email, DisplayName: f.Identity.DisplayName}
	c.mu.Lock()
	c.current, c.signedIn, c.token = id, true, f.Token
	c.mu.Unlock()
	c.listeners.Notify(id, true)
	return id, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if _, err := c.call(ctx, Request{Op: opSignOut}); err != nil {
		return err
	}
	c.cleared()
	return nil
}

func (c *Client) DeleteIdentity(ctx context.Context) error {
	if _, err := c.call(ctx, Request{Op: opDeleteIdentity}); err != nil {
		return err
	}
	c.cleared()
	return nil
}

func (c *Client) cleared() {
	c.mu.Lock()
	prev, was := c.current, c.signedIn
	c.current, c.signedIn, c.token = gateway.Identity{}, false, ""
	c.mu.Unlock()
	if was {
		c.listeners.Notify(prev, false)
	}
}

func (c *Client) Current() (gateway.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.signedIn
}

func (c *Client) OnIdentityChanged(fn func(gateway.Identity, bool)) func() {
	return c.listeners.Add(fn)
}

// subscriber delivers snapshots on its own goroutine. Only the newest
// undelivered snapshot is kept.
type subscriber struct {
	path string
	fn   func(gateway.Snapshot)
	ch   chan gateway.Snapshot
	quit chan struct{}
	once sync.Once
}

func newSubscriber(path string, fn func(gateway.Snapshot)) *subscriber {
	s := &subscriber{path: path, fn: fn, ch: make(chan gateway.Snapshot, 1), quit: make(chan struct{})}
	go s.run()
	return s
}

func (s *subscriber) run() {
	for {
		select {
		case snap := <-s.ch:
			s.fn(snap)
		case <-s.quit:
			return
		}
	}
}

func (s *subscriber) offer(snap gateway.Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
}

type linkListeners struct {
	mu   sync.Mutex
	fns  map[int]func(bool)
	next int
}

func (l *linkListeners) add(fn func(bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(bool))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *linkListeners) notify(connected bool) {
	l.mu.Lock()
	fns := make([]func(bool), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

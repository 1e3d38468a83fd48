package pipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// sendBuffer is the outbound frame queue depth per session.
	sendBuffer = 64

	// callTimeout bounds one tool call end to end, including the
	// controller round trips behind it.
	callTimeout = 30 * time.Second
)

// Conn is the websocket surface the pipe uses. *websocket.Conn satisfies
// it; tests substitute a scripted fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer establishes one websocket session to the endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// defaultDialer dials with gorilla's default settings.
func defaultDialer(ctx context.Context, endpoint string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configure a Pipe.
type Options struct {
	// Endpoint is the agent websocket URL. It embeds an access token, so
	// it must never appear in logs; the pipe logs only the host.
	Endpoint string

	// MaxMessageSize bounds inbound frames in bytes.
	MaxMessageSize int64

	// PingInterval is the keepalive period.
	PingInterval time.Duration

	// Backoff is the reconnect delay policy.
	Backoff BackoffPolicy

	// Version is reported in the initialize handshake.
	Version string

	// Dialer and Clock default to the real implementations when nil.
	Dialer Dialer
	Clock  Clock
}

// Pipe owns the connection lifecycle and frame dispatch.
type Pipe struct {
	endpoint string
	host     string // safe for logs

	maxMessageSize int64
	pingInterval   time.Duration
	version        string

	backoff BackoffPolicy
	clock   Clock
	dial    Dialer

	tools  *Tools
	logger *logging.Logger

	state atomic.Int32
}

// New creates a pipe. Run starts it.
func New(opts Options, tools *Tools, logger *logging.Logger) *Pipe {
	if opts.Dialer == nil {
		opts.Dialer = defaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Backoff == (BackoffPolicy{}) {
		opts.Backoff = DefaultBackoff
	}

	host := "invalid-endpoint"
	if u, err := url.Parse(opts.Endpoint); err == nil {
		host = u.Host
	}

	return &Pipe{
		endpoint:       opts.Endpoint,
		host:           host,
		maxMessageSize: opts.MaxMessageSize,
		pingInterval:   opts.PingInterval,
		version:        opts.Version,
		backoff:        opts.Backoff,
		clock:          opts.Clock,
		dial:           opts.Dialer,
		tools:          tools,
		logger:         logger.With("component", "pipe", "endpoint_host", host),
	}
}

// State returns the current lifecycle state.
func (p *Pipe) State() State {
	return State(p.state.Load())
}

func (p *Pipe) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.logger.Debug("pipe state changed", "from", old.String(), "to", s.String())
	}
}

// Run maintains the session until ctx is cancelled. It dials, serves the
// connection, and on loss backs off and dials again with the same
// credentialled endpoint URL. Always returns ctx.Err().
func (p *Pipe) Run(ctx context.Context) error {
	defer p.setState(StateDraining)

	attempt := 0
	for {
		p.setState(StateConnecting)
		conn, err := p.dial(ctx, p.endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.setState(StateDisconnected)
			delay := p.backoff.Next(attempt)
			attempt++
			p.logger.Warn("dial failed",
				"attempt", attempt,
				"retry_in", delay.String(),
				"error", err,
			)
			if err := p.wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		p.setState(StateConnected)
		p.logger.Info("pipe connected")

		err = p.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.setState(StateDisconnected)
		delay := p.backoff.Next(attempt)
		attempt++
		p.logger.Warn("session ended",
			"retry_in", delay.String(),
			"error", err,
		)
		if err := p.wait(ctx, delay); err != nil {
			return err
		}
	}
}

// wait sleeps for d via the injected clock, honouring cancellation.
func (p *Pipe) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}

// serve reads frames until the connection or the context dies. Outbound
// frames funnel through a single writer goroutine; handlers append to the
// send queue when their result is ready.
func (p *Pipe) serve(ctx context.Context, conn Conn) error {
	send := make(chan []byte, sendBuffer)

	// sessionCtx ends with this connection, not with shutdown: a tool
	// call in flight when shutdown begins keeps a live context and runs
	// to its own timeout.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var writeErr error
	writerDone := make(chan struct{})
	go func() {
		writeErr = p.writeLoop(sessionCtx, conn, send)
		close(writerDone)
	}()

	calls := newInflight()

	// Shutdown drains before disconnecting: stop accepting tool calls,
	// wait for the running ones, flush their results through the writer,
	// then close the connection to unblock the read loop.
	go func() {
		select {
		case <-ctx.Done():
			p.setState(StateDraining)
			<-calls.drain()
			select {
			case send <- nil:
				<-writerDone
			case <-writerDone:
			}
			conn.Close()
		case <-sessionCtx.Done():
		}
	}()

	conn.SetReadLimit(p.maxMessageSize)
	pongWait := p.pingInterval * 2
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // fake conns in tests ignore deadlines
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // as above
		p.handleFrame(sessionCtx, data, send, calls)
	}

	cancel()
	<-writerDone
	if readErr == nil {
		readErr = writeErr
	}
	return readErr
}

// writeLoop is the single writer. It drains the send queue and emits
// keepalive pings. A nil frame is the drain marker: everything enqueued
// before it has been written, so the writer exits cleanly.
func (p *Pipe) writeLoop(ctx context.Context, conn Conn, send <-chan []byte) error {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-send:
			if data == nil {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // fake conns ignore deadlines
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // as above
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// inflight counts running tool calls so shutdown can wait for them.
type inflight struct {
	mu       sync.Mutex
	count    int
	draining bool
	idle     chan struct{}
}

func newInflight() *inflight {
	return &inflight{idle: make(chan struct{})}
}

// begin registers a call. It fails once draining has started.
func (f *inflight) begin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining {
		return false
	}
	f.count++
	return true
}

func (f *inflight) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count--
	if f.draining && f.count == 0 {
		close(f.idle)
	}
}

// drain stops new calls and returns a channel that closes when the last
// running call ends. Call it at most once.
func (f *inflight) drain() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draining = true
	if f.count == 0 {
		close(f.idle)
	}
	return f.idle
}

// handleFrame decodes and dispatches one inbound frame. A frame that does
// not decode produces an error response, never a connection teardown.
func (p *Pipe) handleFrame(ctx context.Context, data []byte, send chan<- []byte, calls *inflight) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Warn("undecodable frame", "error", err)
		p.enqueue(ctx, send, newErrorResponse(nil, codeParseError, "parse error"))
		return
	}

	switch req.Method {
	case "initialize":
		p.enqueue(ctx, send, newResponse(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      serverInfo{Name: "mdbridge", Version: p.version},
		}))

	case "notifications/initialized":
		// Notification, nothing to answer.

	case "ping":
		p.enqueue(ctx, send, newResponse(req.ID, map[string]any{}))

	case "tools/list":
		p.enqueue(ctx, send, newResponse(req.ID, map[string]any{"tools": p.tools.List()}))

	case "tools/call":
		// Tool calls can block on the controller; run them off the read
		// loop so a slow relay does not stall pings and other frames.
		// The writer preserves result-completion order. Registration
		// fails once draining starts; late frames are dropped.
		if !calls.begin() {
			p.logger.Debug("dropping tool call during drain")
			return
		}
		go func() {
			defer calls.end()
			p.handleCall(ctx, req, send)
		}()

	default:
		if req.isNotification() {
			p.logger.Debug("ignoring notification", "method", req.Method)
			return
		}
		p.enqueue(ctx, send, newErrorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method))
	}
}

// handleCall executes one tools/call request.
func (p *Pipe) handleCall(ctx context.Context, req rpcRequest, send chan<- []byte) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		p.enqueue(ctx, send, newErrorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error()))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	payload, isErr, err := p.tools.Call(callCtx, params.Name, params.Arguments, correlationID(req.ID))
	if err != nil {
		var unknown errUnknownTool
		if errors.As(err, &unknown) {
			p.enqueue(ctx, send, newErrorResponse(req.ID, codeInvalidParams, err.Error()))
			return
		}
		p.logger.Error("tool call failed", "tool", params.Name, "error", err)
		p.enqueue(ctx, send, newErrorResponse(req.ID, codeInternalError, err.Error()))
		return
	}

	result, err := newCallResult(payload, isErr)
	if err != nil {
		p.enqueue(ctx, send, newErrorResponse(req.ID, codeInternalError, "encoding result: "+err.Error()))
		return
	}
	p.enqueue(ctx, send, newResponse(req.ID, result))
}

// enqueue marshals the response onto the writer queue.
func (p *Pipe) enqueue(ctx context.Context, send chan<- []byte, resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		p.logger.Error("encoding response", "error", err)
		return
	}

	select {
	case send <- data:
	case <-ctx.Done():
	}
}

// correlationID derives a router correlation ID from the JSON-RPC frame
// id, so a retried frame maps to the same dispatch.
func correlationID(id json.RawMessage) string {
	s := strings.Trim(string(id), `"`)
	if s == "" || s == "null" {
		return ""
	}
	return "mcp-" + s
}

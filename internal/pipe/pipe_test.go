package pipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/channels/scheduler"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/router"
)

const testCatalog = `{
  "свет": {
    "type": "relay",
    "devices": {
      "улица": { "object": "Relay01", "property": "status" }
    }
  },
  "колонки": {
    "type": "media",
    "devices": {
      "комната отдыха": { "object": "Speaker01", "property": "volume" }
    }
  }
}`

// fakeConn is a scripted in-memory websocket connection.
type fakeConn struct {
	in  chan []byte // frames the agent sends to the pipe
	out chan []byte // text frames the pipe writes

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	if messageType == websocket.TextMessage {
		c.out <- data
	}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                   {}
func (c *fakeConn) SetReadDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error     { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)    {}
func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// send delivers one frame to the pipe.
func (c *fakeConn) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.in <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("pipe did not accept frame")
	}
}

// receive returns the next response, decoded.
func (c *fakeConn) receive(t *testing.T) rpcResponse {
	t.Helper()
	select {
	case data := <-c.out:
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("decoding response %s: %v", data, err)
		}
		return resp
	case <-time.After(time.Second):
		t.Fatal("no response from pipe")
		return rpcResponse{}
	}
}

// fakeClock records requested delays and fires timers immediately.
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// mockDispatcher records intents.
type mockDispatcher struct {
	mu      sync.Mutex
	intents []router.CommandIntent
	result  router.CommandResult
}

func (m *mockDispatcher) Dispatch(_ context.Context, intent router.CommandIntent) router.CommandResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, intent)
	res := m.result
	if res.Status == "" {
		res.Status = router.StatusOK
	}
	res.CorrelationID = intent.CorrelationID
	return res
}

func (m *mockDispatcher) dispatched() []router.CommandIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]router.CommandIntent(nil), m.intents...)
}

func newTestTools(t *testing.T, disp Dispatcher) *Tools {
	t.Helper()

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "aliases.json")
	if err := os.WriteFile(catalogPath, []byte(testCatalog), 0600); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	store, err := catalog.NewStore(catalogPath, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	schedule := scheduler.NewStore(filepath.Join(dir, "schedule.json"))
	return NewTools(disp, store, schedule, nil, logging.Default())
}

// startPipe runs a pipe against a scripted dialer and waits for the
// connected state.
func startPipe(t *testing.T, dial Dialer, clock Clock) (*Pipe, context.CancelFunc) {
	t.Helper()

	p := New(Options{
		Endpoint: "wss://agent.example/mcp/?token=secret",
		Backoff:  BackoffPolicy{Floor: time.Second, Ceiling: time.Minute, Factor: 2},
		Version:  "test",
		Dialer:   dial,
		Clock:    clock,
	}, newTestTools(t, &mockDispatcher{}), logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx) //nolint:errcheck // returns ctx.Err on cancel

	return p, cancel
}

func waitForState(t *testing.T, p *Pipe, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", p.State(), want)
}

func TestBackoffPolicyGrowth(t *testing.T) {
	p := BackoffPolicy{Floor: time.Second, Ceiling: 10 * time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Next(tt.attempt); got != tt.want {
			t.Errorf("Next(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffPolicyJitterStaysBounded(t *testing.T) {
	p := BackoffPolicy{Floor: time.Second, Ceiling: 10 * time.Second, Factor: 2, Jitter: true}

	for attempt := 0; attempt < 6; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.Next(attempt)
			if d < p.Floor || d > p.Ceiling {
				t.Fatalf("Next(%d) = %v outside [%v, %v]", attempt, d, p.Floor, p.Ceiling)
			}
		}
	}
}

func TestPipeReconnectsAfterDialFailure(t *testing.T) {
	clock := &fakeClock{}
	conn := newFakeConn()

	var mu sync.Mutex
	attempts := 0
	dial := func(context.Context, string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 2 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}

	p, cancel := startPipe(t, dial, clock)
	defer cancel()

	waitForState(t, p, StateConnected)

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}

	delays := clock.recorded()
	if len(delays) != 2 {
		t.Fatalf("backoff waits = %d, want 2", len(delays))
	}
	if delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
}

func TestPipeDrainsOnCancel(t *testing.T) {
	conn := newFakeConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	p, cancel := startPipe(t, dial, &fakeClock{})
	waitForState(t, p, StateConnected)

	cancel()
	waitForState(t, p, StateDraining)
}

// gateDispatcher blocks every dispatch until released, then records
// whether its context was still alive.
type gateDispatcher struct {
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	ctxErr error
}

func (d *gateDispatcher) Dispatch(ctx context.Context, intent router.CommandIntent) router.CommandResult {
	close(d.started)
	<-d.release
	d.mu.Lock()
	d.ctxErr = ctx.Err()
	d.mu.Unlock()
	return router.CommandResult{
		Status:        router.StatusOK,
		CorrelationID: intent.CorrelationID,
	}
}

func TestShutdownWaitsForInFlightCall(t *testing.T) {
	disp := &gateDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	conn := newFakeConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	p := New(Options{
		Endpoint: "wss://agent.example/mcp/?token=secret",
		Backoff:  BackoffPolicy{Floor: time.Second, Ceiling: time.Minute, Factor: 2},
		Dialer:   dial,
		Clock:    &fakeClock{},
	}, newTestTools(t, disp), logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		p.Run(ctx) //nolint:errcheck // returns ctx.Err on cancel
		close(runDone)
	}()
	waitForState(t, p, StateConnected)

	conn.send(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"control_device","arguments":{"device_query":"улица","action":"включи","tts_feedback":false}}}`)
	select {
	case <-disp.started:
	case <-time.After(time.Second):
		t.Fatal("dispatch never started")
	}

	cancel()
	waitForState(t, p, StateDraining)

	// The connection stays open while the call is running.
	select {
	case <-conn.closed:
		t.Fatal("connection closed with a call in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(disp.release)

	resp := conn.receive(t)
	if resp.Error != nil {
		t.Fatalf("tools/call error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result callResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}

	disp.mu.Lock()
	ctxErr := disp.ctxErr
	disp.mu.Unlock()
	if ctxErr != nil {
		t.Errorf("dispatch context = %v during shutdown, want live", ctxErr)
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("pipe did not stop after the call drained")
	}
}

func TestInitializeHandshake(t *testing.T) {
	conn := newFakeConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	p, cancel := startPipe(t, dial, &fakeClock{})
	defer cancel()
	waitForState(t, p, StateConnected)

	conn.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	resp := conn.receive(t)

	if resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}
	result, _ := json.Marshal(resp.Result)
	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if init.ProtocolVersion != protocolVersion {
		t.Errorf("protocolVersion = %s, want %s", init.ProtocolVersion, protocolVersion)
	}
	if init.ServerInfo.Name != "mdbridge" {
		t.Errorf("server name = %s, want mdbridge", init.ServerInfo.Name)
	}
}

func TestToolsListAdvertisesTools(t *testing.T) {
	conn := newFakeConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	p, cancel := startPipe(t, dial, &fakeClock{})
	defer cancel()
	waitForState(t, p, StateConnected)

	conn.send(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	resp := conn.receive(t)

	if resp.Error != nil {
		t.Fatalf("tools/list error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result struct {
		Tools []toolDef `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}

	names := make(map[string]bool, len(result.Tools))
	for _, d := range result.Tools {
		names[d.Name] = true
	}
	for _, want := range []string{
		"control_device", "get_device_status", "get_sensor_value",
		"set_device_parameter", "run_script", "get_property", "set_property",
		"list_devices", "add_scheduler_task", "add_temporary_scheduler_task",
		"delete_scheduler_task", "delete_all_scheduler_tasks", "list_scheduler_tasks",
	} {
		if !names[want] {
			t.Errorf("tool %q not advertised", want)
		}
	}
}

func TestBadFrameKeepsSession(t *testing.T) {
	conn := newFakeConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	p, cancel := startPipe(t, dial, &fakeClock{})
	defer cancel()
	waitForState(t, p, StateConnected)

	conn.send(t, `{not json`)
	resp := conn.receive(t)
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp)
	}

	// Session must survive the bad frame.
	if p.State() != StateConnected {
		t.Fatalf("state = %s after bad frame, want connected", p.State())
	}
	conn.send(t, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	resp = conn.receive(t)
	if resp.Error != nil {
		t.Errorf("ping after bad frame failed: %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	conn := newFakeConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	p, cancel := startPipe(t, dial, &fakeClock{})
	defer cancel()
	waitForState(t, p, StateConnected)

	conn.send(t, `{"jsonrpc":"2.0","id":4,"method":"resources/list"}`)
	resp := conn.receive(t)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp)
	}
}

func TestToolsCallDispatchesWithFrameCorrelation(t *testing.T) {
	disp := &mockDispatcher{}
	conn := newFakeConn()
	dial := func(context.Context, string) (Conn, error) { return conn, nil }

	p := New(Options{
		Endpoint: "wss://agent.example/mcp/?token=secret",
		Backoff:  BackoffPolicy{Floor: time.Second, Ceiling: time.Minute, Factor: 2},
		Dialer:   dial,
		Clock:    &fakeClock{},
	}, newTestTools(t, disp), logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx) //nolint:errcheck // cancelled by test
	waitForState(t, p, StateConnected)

	frame := `{"jsonrpc":"2.0","id":42,"method":"tools/call","params":{"name":"control_device","arguments":{"device_query":"улица","action":"включи","tts_feedback":false}}}`
	conn.send(t, frame)
	resp := conn.receive(t)

	if resp.Error != nil {
		t.Fatalf("tools/call error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result callResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}

	intents := disp.dispatched()
	if len(intents) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(intents))
	}
	got := intents[0]
	if got.CorrelationID != "mcp-42" {
		t.Errorf("correlation = %q, want mcp-42", got.CorrelationID)
	}
	if got.Action != router.ActionWrite || got.Value != "1" || got.Channel != "mcp" {
		t.Errorf("unexpected intent: %+v", got)
	}
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{`42`, "mcp-42"},
		{`"req-7"`, "mcp-req-7"},
		{`null`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("id=%s", tt.id), func(t *testing.T) {
			if got := correlationID(json.RawMessage(tt.id)); got != tt.want {
				t.Errorf("correlationID(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

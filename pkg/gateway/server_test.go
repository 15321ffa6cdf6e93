package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaozhch5/openclaw/internal/config"
	"github.com/xiaozhch5/openclaw/pkg/agentsession"
	"github.com/xiaozhch5/openclaw/pkg/lane"
	"github.com/xiaozhch5/openclaw/pkg/model"
	"github.com/xiaozhch5/openclaw/pkg/runner"
	"github.com/xiaozhch5/openclaw/pkg/workspace"
)

type echoResolver struct{}

func (echoResolver) Resolve(provider, modelID string) (*model.Resolved, error) {
	return &model.Resolved{Provider: provider, Model: modelID, ProfileID: "test"}, nil
}

// echoSession streams the prompt text back as the reply.
type echoSession struct {
	id      string
	handler agentsession.Handler
	history []agentsession.Message
}

func (s *echoSession) ID() string { return s.id }

func (s *echoSession) Subscribe(h agentsession.Handler) func() {
	s.handler = h
	return func() { s.handler = nil }
}

func (s *echoSession) Prompt(ctx context.Context, text string) error {
	reply := "echo: " + text
	s.handler(agentsession.Event{Kind: agentsession.EventRunStart})
	s.handler(agentsession.Event{Kind: agentsession.EventMessageUpdate, Delta: reply, SegmentEnd: true})
	msg := agentsession.TextMessage("assistant", reply)
	s.history = append(s.history, msg)
	s.handler(agentsession.Event{Kind: agentsession.EventMessageEnd, Message: &msg})
	s.handler(agentsession.Event{Kind: agentsession.EventRunEnd})
	return nil
}

func (s *echoSession) QueueMessage(ctx context.Context, text string) error { return nil }
func (s *echoSession) Abort() error                                        { return nil }
func (s *echoSession) Dispose()                                            {}
func (s *echoSession) IsStreaming() bool                                   { return false }
func (s *echoSession) History() []agentsession.Message                     { return s.history }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	mgr, err := workspace.NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	queue := lane.New()
	t.Cleanup(func() { _ = queue.Close() })

	r, err := runner.New(runner.Config{
		Queue:      queue,
		Registry:   runner.NewRegistry(),
		Resolver:   echoResolver{},
		Workspaces: mgr,
		Opener: agentsession.OpenerFunc(func(ctx context.Context, req agentsession.OpenRequest) (agentsession.Session, error) {
			return &echoSession{id: req.SessionID}, nil
		}),
		Logger:   zerolog.Nop(),
		Defaults: runner.Defaults{Provider: "anthropic", Model: "test", TimeoutMs: 5000},
	})
	require.NoError(t, err)

	srv, err := NewServer(config.GatewayConfig{Host: "127.0.0.1", Port: 0}, r, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv, srv.Addr()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) responseFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame responseFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestGatewayRunRoundTrip(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)

	require.NoError(t, conn.WriteJSON(requestFrame{
		Type:      frameRun,
		ID:        "req-1",
		SessionID: "s1",
		Prompt:    "hello",
	}))

	var reply *responseFrame
	var sawBlock bool
	for reply == nil {
		frame := readFrame(t, conn)
		switch frame.Type {
		case frameBlock:
			sawBlock = true
			assert.Equal(t, "echo: hello", frame.Text)
		case frameReply:
			f := frame
			reply = &f
		case frameError:
			t.Fatalf("unexpected error frame: %s", frame.Error)
		}
	}

	assert.True(t, sawBlock)
	assert.Equal(t, "req-1", reply.ID)
	require.NotNil(t, reply.Payload)
	require.Len(t, reply.Payload.Items, 1)
	assert.Equal(t, "echo: hello", reply.Payload.Items[0].Text)
	assert.False(t, reply.Payload.Aborted)
}

func TestGatewayPing(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)

	require.NoError(t, conn.WriteJSON(requestFrame{Type: framePing, ID: "p1"}))

	frame := readFrame(t, conn)
	assert.Equal(t, frameOK, frame.Type)
	assert.Equal(t, "p1", frame.ID)
}

func TestGatewayRejectsInvalidFrames(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)

	tests := []string{
		`{"type":"bogus"}`,
		`{"type":"run"}`,
		`{"type":"message","session_id":"s1"}`,
		`{"type":"abort"}`,
	}

	for _, raw := range tests {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
		frame := readFrame(t, conn)
		assert.Equal(t, frameError, frame.Type, "payload: %s", raw)
		assert.NotEmpty(t, frame.Error)
	}
}

func TestGatewayAbortWithoutActiveRun(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)

	require.NoError(t, conn.WriteJSON(requestFrame{Type: frameAbort, ID: "a1", SessionID: "ghost"}))

	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
	assert.Contains(t, frame.Error, "no active run")
}

func TestGatewayMessageWithoutActiveRun(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dial(t, addr)

	require.NoError(t, conn.WriteJSON(requestFrame{
		Type:      frameMessage,
		ID:        "m1",
		SessionID: "ghost",
		Text:      "hello",
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
}

func TestGatewayHealthEndpoint(t *testing.T) {
	_, addr := newTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status     string `json:"status"`
		Clients    int    `json:"clients"`
		ActiveRuns int    `json:"active_runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestGatewayClientCountTracksConnections(t *testing.T) {
	srv, addr := newTestServer(t)

	conn := dial(t, addr)
	assert.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestValidateRequest(t *testing.T) {
	schema, err := compileRequestSchema()
	require.NoError(t, err)

	assert.NoError(t, validateRequest(schema, []byte(`{"type":"run","prompt":"hi"}`)))
	assert.NoError(t, validateRequest(schema, []byte(`{"type":"ping"}`)))
	assert.Error(t, validateRequest(schema, []byte(`{"type":"run"}`)))
	assert.Error(t, validateRequest(schema, []byte(`{"prompt":"hi"}`)))
	assert.Error(t, validateRequest(schema, []byte(`not json`)))
	assert.Error(t, validateRequest(schema, []byte(`{"type":"run","prompt":"hi","timeout_ms":-5}`)))
}

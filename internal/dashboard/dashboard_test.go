package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noob4Eternity/chokidar/internal/daemon"
	"github.com/Noob4Eternity/chokidar/internal/metrics"
)

type fixedStatus daemon.Status

func (f fixedStatus) Status(context.Context) daemon.Status { return daemon.Status(f) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	if cfg.Status == nil {
		cfg.Status = fixedStatus{Running: true, SourcePath: "scanner_data.csv", LedgerSize: 3}
	}
	cfg.Logger = testLogger()

	s, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Status: fixedStatus{}})
	assert.Error(t, err)

	_, err = NewServer(Config{Addr: ":0"})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := startServer(t, Config{})

	code, body := get(t, "http://"+s.Addr()+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, body)
}

func TestStatus(t *testing.T) {
	s := startServer(t, Config{})

	code, body := get(t, "http://"+s.Addr()+"/status")
	require.Equal(t, http.StatusOK, code)

	var st daemon.Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.True(t, st.Running)
	assert.Equal(t, "scanner_data.csv", st.SourcePath)
	assert.Equal(t, 3, st.LedgerSize)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObservePass("inserted", 20*time.Millisecond)

	s := startServer(t, Config{Gatherer: reg})

	code, body := get(t, "http://"+s.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `scansync_passes_total{outcome="inserted"} 1`)
}

func TestWebSocket_WelcomeAndPass(t *testing.T) {
	s := startServer(t, Config{})
	h := NewHandler(s, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	welcome := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeStatus, welcome.Type)
	assert.Equal(t, 1, s.ClientCount())

	h.OnPass(daemon.PassReport{
		Outcome:     daemon.OutcomeInserted,
		Fingerprint: "abc123",
		Customer:    "Jane Doe",
		Attempts:    1,
	})

	msg := readMessage(t, ctx, conn)
	require.Equal(t, MessageTypePass, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var report daemon.PassReport
	require.NoError(t, json.Unmarshal(msg.Data, &report))
	assert.Equal(t, daemon.OutcomeInserted, report.Outcome)
	assert.Equal(t, "Jane Doe", report.Customer)
}

func TestWebSocket_MultipleClients(t *testing.T) {
	s := startServer(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")
		readMessage(t, ctx, conn)
		conns[i] = conn
	}
	assert.Equal(t, 3, s.ClientCount())

	s.Broadcast(Message{Type: MessageTypePass, Data: json.RawMessage(`{"outcome":"duplicate"}`)})

	for _, conn := range conns {
		msg := readMessage(t, ctx, conn)
		assert.Equal(t, MessageTypePass, msg.Type)
		assert.True(t, strings.Contains(string(msg.Data), "duplicate"))
	}
}

func TestStatusInterval(t *testing.T) {
	s := startServer(t, Config{StatusInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	readMessage(t, ctx, conn)
	msg := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeStatus, msg.Type)
}

func TestStop_Idempotent(t *testing.T) {
	s, err := NewServer(Config{Addr: "127.0.0.1:0", Status: fixedStatus{}, Logger: testLogger()})
	require.NoError(t, err)

	// Never started.
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	// Broadcasting after stop must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			s.Broadcast(Message{Type: MessageTypePass})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked after Stop")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := NewServer(Config{Addr: "127.0.0.1:0", Status: fixedStatus{}, Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

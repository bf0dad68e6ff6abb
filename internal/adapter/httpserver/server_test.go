package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/RealBhupesh/fictional-carnival/internal/auth"
	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/config"
	"github.com/RealBhupesh/fictional-carnival/internal/relay"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testSecret = "relay-test-secret-0123"

var (
	adminClaim   = domain.Claim{SubjectID: "admin-1", Role: domain.RoleAdmin, DisplayName: "Ada"}
	managerClaim = domain.Claim{SubjectID: "manager-1", Role: domain.RoleManager, DisplayName: "Max"}
	userClaim    = domain.Claim{SubjectID: "user-1", Role: domain.RoleUser, DisplayName: "Uma"}
)

type fakeActivity struct {
	mu        sync.Mutex
	logs      []domain.ActivityLog
	err       error
	lastLimit int
}

func (f *fakeActivity) Recent(_ context.Context, limit int) ([]domain.ActivityLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.logs) {
		return f.logs[:limit], nil
	}
	return f.logs, nil
}

type serverOptions struct {
	healthChecks []HealthCheck
	activity     domain.ActivityReader
	appEnv       string

	maxConnections      int64
	maxConnectionsPerIP int
}

type serverOption func(*serverOptions)

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(o *serverOptions) { o.healthChecks = checks }
}

func withActivity(a domain.ActivityReader) serverOption {
	return func(o *serverOptions) { o.activity = a }
}

func withConnectionLimits(total int64, perIP int) serverOption {
	return func(o *serverOptions) {
		o.maxConnections = total
		o.maxConnectionsPerIP = perIP
	}
}

type testServer struct {
	srv     *Server
	hub     *relay.Hub
	issuer  *auth.Issuer
	metrics Metrics
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	o := serverOptions{appEnv: "production"}
	for _, opt := range opts {
		opt(&o)
	}

	clock := clockwork.NewRealClock()
	reg := prometheus.NewRegistry()
	m := Metrics{
		Registry: reg,
		HTTP:     metrics.NewHTTPMetrics(reg),
		Relay:    metrics.NewRelayMetrics(reg),
	}

	hub := relay.NewHub(relay.Config{NodeID: "test-node"}, nil, nil, m.Relay, clock)
	t.Cleanup(hub.Stop)

	verifier, err := auth.NewVerifier(testSecret, clock)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(testSecret, clock)
	require.NoError(t, err)

	cfg := &config.Config{
		AppEnv:       o.appEnv,
		AppURL:       "https://console.example.com",
		Port:         "0",
		APIRateLimit: 1000,

		MaxConnections:      o.maxConnections,
		MaxConnectionsPerIP: o.maxConnectionsPerIP,
	}

	return &testServer{
		srv:     NewServer(cfg, hub, verifier, o.activity, m, o.healthChecks),
		hub:     hub,
		issuer:  issuer,
		metrics: m,
	}
}

func (ts *testServer) token(t *testing.T, claim domain.Claim) string {
	t.Helper()
	token, err := ts.issuer.Issue(claim, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a request through the full middleware chain.
func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = testRemoteAddr
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.echo.ServeHTTP(rec, req)
	return rec
}

// listen serves the echo instance over a real listener and returns the
// socket URL.
func (ts *testServer) listen(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(ts.srv.Handler())
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + SocketPath
}

func dialSocket(t *testing.T, url, token string) (*ws.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := ws.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *ws.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f wireFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func expectSilence(t *testing.T, conn *ws.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

func waitForRoomSize(t *testing.T, hub *relay.Hub, room domain.Room, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.RoomSize(room) == n
	}, 2*time.Second, 10*time.Millisecond)
}

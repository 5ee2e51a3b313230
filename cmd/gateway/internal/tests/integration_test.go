package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/bridge"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/generator"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/price-relay/cmd/gateway/internal/session"
	"github.com/shubham-shewale/price-relay/pkg/models"
	"github.com/shubham-shewale/price-relay/pkg/synth"
)

type env struct {
	server *httptest.Server
	gw     *gateway.Server
	reg    *registry.Registry
	mr     *miniredis.Miniredis
}

// startServer wires the gateway the way main does. An empty upstreamURL
// runs without a credential.
func startServer(t *testing.T, upstreamURL string) *env {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := repository.NewRedisStore(rdb, time.Hour)
	logger := zap.NewNop()

	reg := registry.NewRegistry(store, logger)
	gen := generator.NewSyntheticGenerator(logger, 20*time.Millisecond,
		func() synth.Rand { return synth.NewRealRand() }, synth.RealClock{})
	up := bridge.NewUpstreamBridge(bridge.Config{
		URL:              upstreamURL,
		Token:            "test-key",
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
	}, logger)

	relay := session.NewRelay(session.Config{
		HasCredential: upstreamURL != "",
		DrainTimeout:  500 * time.Millisecond,
	}, reg, gen, up, nil, logger)

	gw := gateway.NewServer(relay, reg, store, logger, gateway.Options{
		WriteTimeout:   time.Second,
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	})
	server := httptest.NewServer(gw.Routes())
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
		store.Close()
	})

	return &env{server: server, gw: gw, reg: reg, mr: mr}
}

func connectWS(t *testing.T, serverURL, path string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(serverURL, "http") + path
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	return wsConn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("Invalid JSON frame %s: %v", msg, err)
	}
	return frame
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting: %s", msg)
}

func TestEndToEnd_SyntheticStock(t *testing.T) {
	e := startServer(t, "")

	wsConn := connectWS(t, e.server.URL, "/ws/aapl")
	defer wsConn.Close()

	for i := 0; i < 3; i++ {
		if f := readFrame(t, wsConn); f["type"] != "ping" {
			t.Fatalf("Expected ping, got %v", f)
		}
		wsConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))

		f := readFrame(t, wsConn)
		if f["type"] != "trade" {
			t.Fatalf("Expected trade, got %v", f)
		}
		trade := f["data"].([]interface{})[0].(map[string]interface{})
		if trade["s"] != "AAPL" {
			t.Errorf("Expected AAPL, got %v", trade["s"])
		}
		if i == 0 {
			if p := trade["p"].(float64); p < 95 || p > 205 {
				t.Errorf("First price %.2f outside [95, 205]", p)
			}
		}
	}

	if got := e.mr.HGet("relay:sessions", "AAPL"); got == "" {
		t.Error("Session should be listed in the Redis directory")
	}

	wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	wsConn.Close()

	waitFor(t, func() bool { return e.reg.Len() == 0 }, "registry to empty after disconnect")
	waitFor(t, func() bool { return e.mr.HGet("relay:sessions", "AAPL") == "" }, "directory to empty after disconnect")
}

func TestEndToEnd_CryptoFlag(t *testing.T) {
	e := startServer(t, "")

	wsConn := connectWS(t, e.server.URL, "/ws/ETH?is_crypto=true")
	defer wsConn.Close()

	readFrame(t, wsConn)
	f := readFrame(t, wsConn)
	trade := f["data"].([]interface{})[0].(map[string]interface{})
	if p := trade["p"].(float64); p < 29995 || p > 60005 {
		t.Errorf("First ETH price %.2f outside [29995, 60005]", p)
	}

	entry, ok := e.reg.Lookup("ETH")
	if !ok || entry.Mode != models.ModeCrypto {
		t.Errorf("Expected crypto session in registry, got %+v", entry)
	}
}

func TestEndToEnd_InvalidFlag(t *testing.T) {
	e := startServer(t, "")

	resp, err := http.Get(e.server.URL + "/ws/AAPL?is_crypto=maybe")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestEndToEnd_ServerPingAnswered(t *testing.T) {
	e := startServer(t, "")

	wsConn := connectWS(t, e.server.URL, "/ws/MSFT")
	defer wsConn.Close()

	pong := make(chan string, 1)
	wsConn.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	if err := wsConn.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	// Pong handlers run inside ReadMessage
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-pong:
			if data != "hb" {
				t.Errorf("Expected pong payload hb, got %q", data)
			}
			return
		case <-deadline:
			t.Fatal("No pong received")
		default:
			readFrame(t, wsConn)
		}
	}
}

func TestEndToEnd_Replacement(t *testing.T) {
	e := startServer(t, "")

	first := connectWS(t, e.server.URL, "/ws/TSLA")
	defer first.Close()
	readFrame(t, first)
	firstEntry, _ := e.reg.Lookup("TSLA")

	second := connectWS(t, e.server.URL, "/ws/TSLA")
	defer second.Close()
	readFrame(t, second)

	// The first stream is closed by the server
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	waitFor(t, func() bool {
		cur, ok := e.reg.Lookup("TSLA")
		return ok && cur.SessionID != firstEntry.SessionID
	}, "successor to own the symbol")
	if e.reg.Len() != 1 {
		t.Errorf("Expected one active session, got %d", e.reg.Len())
	}
}

func TestEndToEnd_MaxMessageSize(t *testing.T) {
	e := startServer(t, "")
	wsConn := connectWS(t, e.server.URL, "/ws/AAPL")
	defer wsConn.Close()

	hugePayload := strings.Repeat("a", 513*1024)
	hugeMsg := fmt.Sprintf(`{"type":"%s"}`, hugePayload)

	err := wsConn.WriteMessage(websocket.TextMessage, []byte(hugeMsg))
	// Depending on timing, write might succeed, but Read should fail (Disconnect)
	if err == nil {
		wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				break
			}
		}
	}
	waitFor(t, func() bool { return e.reg.Len() == 0 }, "oversized message to end the session")
}

func fakeUpstream(t *testing.T, script func(conn *websocket.Conn)) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readUntilClose collects text frames until the server closes the stream.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]string, error) {
	t.Helper()
	var frames []string
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return frames, err
		}
		frames = append(frames, string(msg))
	}
}

func TestEndToEnd_BridgeUpstreamClose(t *testing.T) {
	const payload = `{"data":[{"p":412.1,"s":"MSFT","t":1700000000000,"v":5}],"type":"trade"}`
	url := fakeUpstream(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(payload))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	})
	e := startServer(t, url)

	wsConn := connectWS(t, e.server.URL, "/ws/MSFT")
	defer wsConn.Close()

	frames, err := readUntilClose(t, wsConn)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected a normal close, got %v", err)
	}
	if len(frames) != 1 || frames[0] != payload {
		t.Errorf("Expected the upstream frame verbatim and no error frame, got %v", frames)
	}
	waitFor(t, func() bool { return e.reg.Len() == 0 }, "registry to empty")
}

func TestEndToEnd_BridgeProtocolError(t *testing.T) {
	url := fakeUpstream(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	e := startServer(t, url)

	wsConn := connectWS(t, e.server.URL, "/ws/MSFT")
	defer wsConn.Close()

	frames, _ := readUntilClose(t, wsConn)
	if len(frames) != 1 {
		t.Fatalf("Expected exactly one error frame, got %v", frames)
	}
	var ef struct {
		Error string `json:"error"`
	}
	json.Unmarshal([]byte(frames[0]), &ef)
	if !strings.Contains(ef.Error, "upstream feed error") {
		t.Errorf("Unexpected error frame %s", frames[0])
	}
}

func TestEndToEnd_BridgeConnectError(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()
	e := startServer(t, url)

	wsConn := connectWS(t, e.server.URL, "/ws/MSFT")
	defer wsConn.Close()

	frames, _ := readUntilClose(t, wsConn)
	if len(frames) != 1 || !strings.Contains(frames[0], "failed to connect to market data") {
		t.Errorf("Expected one connect error frame, got %v", frames)
	}
}

func TestEndToEnd_HTTPRoutes(t *testing.T) {
	e := startServer(t, "")

	wsConn := connectWS(t, e.server.URL, "/ws/AAPL")
	defer wsConn.Close()
	readFrame(t, wsConn)

	resp, err := http.Get(e.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health struct {
		Status         string `json:"status"`
		Source         string `json:"source"`
		ActiveSessions int    `json:"active_sessions"`
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Source != "synthetic" || health.ActiveSessions != 1 {
		t.Errorf("Unexpected health %+v", health)
	}

	resp, err = http.Get(e.server.URL + "/debug/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var dbg struct {
		Sessions  []registry.Entry           `json:"sessions"`
		Directory []repository.SessionRecord `json:"directory"`
	}
	json.NewDecoder(resp.Body).Decode(&dbg)
	resp.Body.Close()
	if len(dbg.Sessions) != 1 || len(dbg.Directory) != 1 || dbg.Directory[0].Symbol != "AAPL" {
		t.Errorf("Unexpected debug listing %+v", dbg)
	}

	resp, err = http.Get(e.server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "new WebSocket") {
		t.Error("Index page should open the stream")
	}

	resp, err = http.Get(e.server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "relay_active_sessions") {
		t.Error("Metrics should expose the sessions gauge")
	}
}

func TestEndToEnd_ShutdownClosesStreams(t *testing.T) {
	e := startServer(t, "")

	wsConn := connectWS(t, e.server.URL, "/ws/AAPL")
	defer wsConn.Close()
	readFrame(t, wsConn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown did not drain sessions: %v", err)
	}
	if e.reg.Len() != 0 {
		t.Errorf("Registry should be empty after shutdown")
	}
}

func TestEndToEnd_EvictSession(t *testing.T) {
	e := startServer(t, "")

	wsConn := connectWS(t, e.server.URL, "/ws/AAPL")
	defer wsConn.Close()
	readFrame(t, wsConn)

	req, _ := http.NewRequest(http.MethodDelete, e.server.URL+"/debug/sessions/aapl", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var evicted registry.Entry
	json.NewDecoder(resp.Body).Decode(&evicted)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || evicted.Symbol != "AAPL" {
		t.Fatalf("Unexpected eviction response %d %+v", resp.StatusCode, evicted)
	}

	if _, err := readUntilClose(t, wsConn); err == nil {
		t.Fatal("Evicted stream should be closed")
	}
	waitFor(t, func() bool { return e.reg.Len() == 0 }, "registry to drop the evicted session")
	waitFor(t, func() bool { return !e.mr.Exists("relay:sessions") }, "directory to drop the evicted session")

	req, _ = http.NewRequest(http.MethodDelete, e.server.URL+"/debug/sessions/AAPL", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Evicting an idle symbol should be 404, got %d", resp.StatusCode)
	}
}

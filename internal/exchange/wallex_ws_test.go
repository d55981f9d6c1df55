package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crossarb/internal/models"
)

// recordingReporter запоминает события транспорта
type recordingReporter struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (r *recordingReporter) MarkConnected(exchange string) {
	r.mu.Lock()
	r.connected = append(r.connected, exchange)
	r.mu.Unlock()
}

func (r *recordingReporter) MarkDisconnected(exchange string, err error) {
	r.mu.Lock()
	r.disconnected = append(r.disconnected, exchange)
	r.mu.Unlock()
}

func (r *recordingReporter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), len(r.disconnected)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// wsEchoServer принимает WebSocket-соединения и держит их открытыми
// до явного закрытия
func wsEchoServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	var mu sync.Mutex
	var conns []*websocket.Conn

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))

	closeConns := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
		conns = nil
	}
	return srv, closeConns
}

func TestWallexStreamReportsHealth(t *testing.T) {
	srv, closeConns := wsEchoServer(t)
	defer srv.Close()

	w := NewWallex("", nil, zap.NewNop())
	w.wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	defer w.Close()

	reporter := &recordingReporter{}
	w.SetHealthReporter(reporter)

	if err := w.SubscribeTicker("BTCUSDT", func(*models.NormalizedTicker) {}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		c, _ := reporter.counts()
		return c >= 1
	}, "MarkConnected не вызван после подключения")

	reporter.mu.Lock()
	if reporter.connected[0] != wallexName {
		t.Errorf("connected = %v, want [%s]", reporter.connected, wallexName)
	}
	reporter.mu.Unlock()

	// Разрыв со стороны сервера должен дойти до менеджера здоровья
	closeConns()

	waitFor(t, 2*time.Second, func() bool {
		_, d := reporter.counts()
		return d >= 1
	}, "MarkDisconnected не вызван после разрыва")

	reporter.mu.Lock()
	if reporter.disconnected[0] != wallexName {
		t.Errorf("disconnected = %v, want [%s]", reporter.disconnected, wallexName)
	}
	reporter.mu.Unlock()
}

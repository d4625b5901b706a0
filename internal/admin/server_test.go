package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fixedSessions int

func (f fixedSessions) ActiveSessions() int { return int(f) }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestHealthz(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Sessions: fixedSessions(3), Log: zap.NewNop()}
	go srv.ListenAndServe(ctx) //nolint:errcheck

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", port))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK             bool `json:"ok"`
		ActiveSessions int  `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK {
		t.Error("expected ok=true")
	}
	if body.ActiveSessions != 3 {
		t.Errorf("active_sessions: got %d want 3", body.ActiveSessions)
	}
}

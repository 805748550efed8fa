package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/domain"
	"github.com/agentmesh-network/agentmesh/internal/infra/sqlite"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("AGENTMESH_HOME", home)
	cfg := DefaultConfig()
	cfg.Node.DataDir = home
	cfg.Network.ListenAddresses = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.Logging.File = ""
	cfg.API.Port = freePort(t)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestNewWithConfig_RejectsBadBootstrap(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.BootstrapPeers = []string{"/ip4/1.2.3.4/tcp/1", "/ip4/1.2.3.5/tcp/1", "/ip4/1.2.3.6/tcp/1"}

	_, err := NewWithConfig(cfg, "test", nil)
	if !errors.Is(err, domain.ErrBootstrapDiversityTooLow) {
		t.Errorf("NewWithConfig() error = %v, want ErrBootstrapDiversityTooLow", err)
	}
}

func TestNewWithConfig_WiresServices(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewWithConfig(cfg, "test", nil)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if d.Journal == nil || d.Controller == nil || d.Host == nil || d.Server == nil {
		t.Fatal("daemon services should all be wired")
	}
	id, err := d.DB.GetNodeInfo("peer_id")
	if err != nil || id != d.Host.ID().String() {
		t.Errorf("stored peer_id = %q (%v), want %s", id, err, d.Host.ID())
	}
}

func TestRecordIdentity(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	steps := []struct {
		peerID  string
		changed bool
	}{
		{"12D3KooWfirst", false},
		{"12D3KooWfirst", false},
		{"12D3KooWsecond", true},
	}
	for _, s := range steps {
		changed, err := recordIdentity(db, s.peerID, zap.NewNop())
		if err != nil {
			t.Fatalf("recordIdentity(%s) error: %v", s.peerID, err)
		}
		if changed != s.changed {
			t.Errorf("recordIdentity(%s) changed = %v, want %v", s.peerID, changed, s.changed)
		}
	}
	if id, _ := db.GetNodeInfo("peer_id"); id != "12D3KooWsecond" {
		t.Errorf("stored peer_id = %q, want 12D3KooWsecond", id)
	}
}

func TestNewWithConfig_StatusShowsPublicKey(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewWithConfig(cfg, "test", nil)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	w := httptest.NewRecorder()
	d.Server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["public_key"] != d.Keypair.PublicKeyHex() {
		t.Errorf("public_key = %v, want %s", resp["public_key"], d.Keypair.PublicKeyHex())
	}
}

func TestNewWithConfig_JournalDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false
	d, err := NewWithConfig(cfg, "test", nil)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if d.Journal != nil || d.DB != nil {
		t.Error("journal and database should not be opened when disabled")
	}
}

func TestServe_HealthAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewWithConfig(cfg, "test", nil)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.API.Port)
	var resp *http.Response
	for i := 0; i < 100; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

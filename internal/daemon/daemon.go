package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/admission"
	"github.com/agentmesh-network/agentmesh/internal/api"
	"github.com/agentmesh-network/agentmesh/internal/health"
	"github.com/agentmesh-network/agentmesh/internal/infra/sqlite"
	"github.com/agentmesh-network/agentmesh/internal/p2p"
	"github.com/agentmesh-network/agentmesh/internal/security"
)

// Daemon is the node runtime. It wires together all services.
type Daemon struct {
	Config     Config
	Version    string
	Log        *zap.Logger
	DB         *sqlite.DB
	Journal    *sqlite.Journal
	Keypair    *security.Keypair
	Controller *admission.Controller
	Host       *p2p.Host
	Health     *health.Checker
	Server     *api.Server

	cancel context.CancelFunc
}

// NewWithConfig validates cfg and builds every service. Bootstrap
// diversity is checked before the transport is created, so a bad list
// never opens a socket.
func NewWithConfig(cfg Config, version string, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("daemon")

	sec, err := cfg.SecurityConfig()
	if err != nil {
		return nil, err
	}
	if err := admission.ValidateNetworkConfig(cfg.NetworkConfig(), sec); err != nil {
		return nil, fmt.Errorf("network config: %w", err)
	}

	d := &Daemon{Config: cfg, Version: version, Log: log}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	// Crypto identity (Ed25519)
	kp, err := security.LoadOrCreateKeypair(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	d.Keypair = kp

	// Admission controller, with the journal as its recorder when enabled
	var ctrlOpts []admission.Option
	ctrlOpts = append(ctrlOpts, admission.WithLogger(log.Named("admission")))
	if cfg.Journal.Enabled {
		jcfg, err := cfg.JournalConfig()
		if err != nil {
			return nil, err
		}
		db, err := sqlite.Open(cfg.Node.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.DB = db
		d.Journal = sqlite.NewJournal(db, jcfg, log.Named("journal"))
		ctrlOpts = append(ctrlOpts, admission.WithRecorder(d.Journal))
	}

	ctrl, err := admission.NewController(sec, int(cfg.Network.MaxConnections), ctrlOpts...)
	if err != nil {
		return nil, fmt.Errorf("admission controller: %w", err)
	}
	d.Controller = ctrl

	// Transport
	key, err := kp.LibP2PKey()
	if err != nil {
		return nil, err
	}
	host, err := p2p.New(p2p.Config{
		ListenAddrs:    cfg.Network.ListenAddresses,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		MaxConnections: int(cfg.Network.MaxConnections),
		IdleTimeout:    sec.IdleTimeout,
	}, key, ctrl, log.Named("p2p"))
	if err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}
	d.Host = host

	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = host.ID().String()
	}
	log.Info("node identity",
		zap.Stringer("peer_id", host.ID()),
		zap.String("public_key", kp.PublicKeyHex()))
	if d.DB != nil {
		if _, err := recordIdentity(d.DB, host.ID().String(), log); err != nil {
			log.Warn("failed to persist peer id", zap.Error(err))
		}
	}

	// Health checker
	checks := []health.Check{
		health.ListenCheck(host.ListenAddrCount),
		health.CapacityCheck(ctrl.Total().RemainingCapacity, func(ctx context.Context) error {
			host.ReapIdle()
			return nil
		}),
	}
	if d.Journal != nil {
		checks = append([]health.Check{health.JournalCheck(d.Journal)}, checks...)
	}
	d.Health = health.NewChecker(health.DefaultInterval, log.Named("health"), checks...)

	// API server
	apiOpts := api.Options{
		NodeID:         nodeID,
		PublicKey:      kp.PublicKeyHex(),
		Version:        version,
		Controller:     ctrl,
		Network:        host,
		Checker:        d.Health,
		CORSOrigins:    cfg.API.CORSOrigins,
		MetricsEnabled: cfg.Telemetry.Prometheus,
		Logger:         log.Named("api"),
	}
	if d.Journal != nil {
		apiOpts.Journal = d.Journal
	}
	d.Server = api.NewServer(apiOpts)

	ok = true
	return d, nil
}

// Serve starts background services and the HTTP server and blocks until
// SIGINT, SIGTERM or ctx cancellation.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.Journal != nil {
		d.Journal.Start(ctx)
	}
	go d.Controller.Run(ctx)
	go d.Host.RunIdleReaper(ctx)
	go d.Host.RunHandshakeExpiry(ctx)
	go d.Health.Run(ctx)
	go d.Host.Bootstrap(ctx)

	addr := net.JoinHostPort(d.Config.API.Host, strconv.Itoa(d.Config.API.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			d.Log.Info("shutting down", zap.Stringer("signal", sig))
		case <-ctx.Done():
			d.Log.Info("shutting down", zap.Error(ctx.Err()))
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("node running",
		zap.Stringer("peer_id", d.Host.ID()),
		zap.Strings("p2p", d.Host.Addrs()),
		zap.String("api", "http://"+addr),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus))

	err := httpServer.ListenAndServe()
	cancel()
	<-done
	d.Close()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts down all daemon resources. Safe to call more than once.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Host != nil {
		_ = d.Host.Close()
		d.Host = nil
	}
	if d.Journal != nil {
		_ = d.Journal.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
}

// recordIdentity stores peerID in node_info and reports whether it differs
// from the one stored by the previous run.
func recordIdentity(db *sqlite.DB, peerID string, log *zap.Logger) (changed bool, err error) {
	prev, err := db.GetNodeInfo("peer_id")
	if err != nil {
		return false, err
	}
	if prev != "" && prev != peerID {
		changed = true
		log.Warn("node identity changed since last run",
			zap.String("previous", prev),
			zap.String("current", peerID))
	}
	return changed, db.SetNodeInfo("peer_id", peerID)
}

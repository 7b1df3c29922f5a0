// Package app wires the chat core runtime: config, logging, HTTP
// routes, and the lifecycle coordinator ordering spec §4.8 names
// (metrics -> store -> long-polling buffers -> bridge -> server ->
// accept loop, reversed on shutdown).
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"chatcore/internal/longpoll"
	"chatcore/internal/metrics"
	"chatcore/internal/protocol"
	"chatcore/internal/realtime"
	"chatcore/internal/store"
)

// App is the chat core runtime: it owns every started subsystem and
// stops them in reverse order on shutdown.
type App struct {
	cfg Config
	log Logger

	metrics *metrics.Registry
	store   store.Store
	buffers *longpoll.Manager
	bridge  *longpoll.Bridge
	server  *realtime.Server

	sweepStop chan struct{}
}

// New performs the start half of the lifecycle coordinator (spec
// §4.8): metrics, then store, then long-polling buffers, then the
// bridge, then the server, wiring the welcome/join/broadcast handlers
// that make up the chat application on top of the core.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}
	warnIfPortOutOfRange(cfg.HTTPAddr, log)

	reg := metrics.New()

	var msgStore store.Store
	var err error
	if cfg.StorePath != "" {
		msgStore, err = store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		log.Info("store.sqlite.opened", "path", cfg.StorePath)
	} else {
		msgStore = store.NewMemoryStore()
		log.Info("store.memory.enabled")
	}

	buffers := longpoll.NewManager(cfg.LPMaxBuffer, cfg.LPTTL, reg)
	bridge := longpoll.NewBridge(buffers, nil)

	sessionCfg := realtime.Config{
		MaxMessageSize:          cfg.WSMaxMessageSize,
		IdleTimeout:             cfg.WSIdleTimeout,
		EnablePerMessageDeflate: cfg.WSEnableDeflate,
		PingInterval:            cfg.WSPingInterval,
		AutoPingPong:            cfg.WSAutoPingPong,
	}
	origin := realtime.OriginPolicy{
		Required:       cfg.RequireOriginHeader,
		AllowedOrigins: cfg.AllowedOrigins,
	}

	srv := realtime.NewServer(log, reg, sessionCfg, origin)
	srv.AttachLongPollingBridge(bridge)

	bridge.SetForwarder(func(env protocol.Envelope) {
		if env.Room != "" {
			srv.BroadcastRoomJSON(env.Room, env.Type, env.Payload)
		} else {
			srv.BroadcastJSON(env.Type, env.Payload)
		}
	})

	wireChatHandlers(srv, msgStore, log)

	return &App{
		cfg:     cfg,
		log:     log,
		metrics: reg,
		store:   msgStore,
		buffers: buffers,
		bridge:  bridge,
		server:  srv,
	}, nil
}

// Handler builds the full HTTP route table (spec §6's external
// surface: /ws, /ws/poll, /ws/send, /metrics, /healthz) wrapped in
// request logging. Exposed separately from Run so tests can drive it
// with httptest.NewServer without binding a real TCP listener.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.metrics, a.server, a.bridge)
	return WithRequestLogging(mux, a.log)
}

// Run starts the accept loop (the HTTP server hosting /ws, /ws/poll,
// /ws/send, /metrics, /healthz), the buffer-sweep ticker, and blocks
// until ctx is cancelled or a fatal server error occurs, then stops
// every subsystem in the reverse of its start order.
func (a *App) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.sweepStop = make(chan struct{})
	sweepPeriod := a.cfg.LPSweepPeriod
	if sweepPeriod <= 0 {
		sweepPeriod = time.Minute
	}
	go a.runSweepLoop(sweepPeriod)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.shutdown(httpSrv)
		return err
	}

	return a.shutdown(httpSrv)
}

func (a *App) runSweepLoop(period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-a.sweepStop:
			return
		case <-t.C:
			a.buffers.SweepExpired()
		}
	}
}

// shutdown reverses the start order from New/Run: accept loop -> HTTP
// server -> realtime server -> (bridge/buffers have no I/O to stop) ->
// store. Every step is idempotent and best-effort: a failure at one
// step is logged and does not prevent later steps from running, per
// spec §4.8 and §7's "stop() always completes" rule.
func (a *App) shutdown(httpSrv *http.Server) error {
	if a.sweepStop != nil {
		close(a.sweepStop)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.log.Error("realtime.stop.fail", "err", err)
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// warnIfPortOutOfRange logs (but does not reject) an HTTPAddr whose
// port falls outside spec §6's documented valid range (1024-65535)
// for websocket.port; the core still binds whatever net/http accepts.
func warnIfPortOutOfRange(addr string, log Logger) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return
	}
	if !WSPortValid(port) {
		log.Warn("config.port.out_of_documented_range", "addr", addr, "port", port)
	}
}

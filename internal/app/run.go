package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the process entrypoint used by cmd/chatserver. It returns an
// error instead of calling os.Exit so main's defers stay effective.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogPretty)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/segfetch/internal/config"
	"github.com/sheerbytes/segfetch/internal/logging"
	"github.com/sheerbytes/segfetch/internal/server"
	"github.com/sheerbytes/segfetch/internal/termio"
	"github.com/sheerbytes/segfetch/internal/transport"
)

const serverVersion = "v0.1.0"

func main() {
	termio.Init()
	code := run(os.Args[1:])
	termio.Flush()
	os.Exit(code)
}

func run(args []string) int {
	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), serverVersion)
		return 0
	}
	cfg, err := config.ParseServerConfig(args)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "segserv: %v\n", err)
		return 2
	}
	logger := logging.NewWithWriter(termio.Stdout(), "segserv", cfg.LogLevel)

	srv, err := server.New(server.Config{
		Root:         cfg.Root,
		MaxChunkSize: cfg.MaxChunkSize,
		AckTimeout:   cfg.AckTimeout,
	}, logger)
	if err != nil {
		logger.Error("server setup failed", "error", err)
		return 1
	}

	conn, tune, err := transport.ListenUDP(cfg.Addr, cfg.UDPReadBufferBytes, cfg.UDPWriteBufferBytes)
	if err != nil {
		logger.Error("bind failed", "addr", cfg.Addr, "error", err)
		return 1
	}
	defer conn.Close()
	logger.Info("socket ready", "addr", conn.LocalAddr().String(), "tuning", tune.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx, conn); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

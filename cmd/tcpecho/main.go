// Command tcpecho runs a line-framed TCP echo server. Every complete line a
// client sends is written back to that client. Optional extras: a WebSocket
// ingress and a Redis-backed presence directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/go-tcpsession/framing"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/presence"
	"github.com/cyberinferno/go-tcpsession/tcpserver"
	"github.com/cyberinferno/go-tcpsession/tcpsession"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tcpecho: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	store, closeStore := newStore(cfg)
	defer closeStore()

	server := newServer(cfg, log)

	fatal := make(chan error, 1)
	tracker := presence.NewTracker(store, cfg.Node, tcpserver.ServerStateFuncs{
		Started: func(port int) {
			fmt.Fprintf(os.Stdout, "tcpecho listening on port %d\n", port)
		},
		ClientError: func(key string, err error) {
			log.Warn("client error", logger.Field{Key: "key", Value: key}, logger.Field{Key: "error", Value: err})
		},
		Error: func(err error) {
			var bindErr *tcpsession.BindError
			if errors.As(err, &bindErr) {
				select {
				case fatal <- err:
				default:
				}
			}
		},
	}, log)
	server.SetStateListener(tracker)

	server.Start(cfg.Port)

	var httpServer *http.Server
	if cfg.WSAddr != "" {
		httpServer = newWSServer(cfg.WSAddr, server, log, fatal)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case runErr = <-fatal:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("websocket listener shutdown failed", logger.Field{Key: "error", Value: err})
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("sessions did not finish in time", logger.Field{Key: "error", Value: err})
	}

	if err := tracker.Flush(shutdownCtx); err != nil {
		log.Warn("presence writes did not finish in time", logger.Field{Key: "error", Value: err})
	}

	return runErr
}

func newServer(cfg config, log logger.Logger) *tcpserver.Server {
	scfg := tcpserver.DefaultConfig()
	scfg.Name = "tcpecho"
	scfg.Host = cfg.Host
	scfg.Logger = log
	scfg.Session.SendDelay = cfg.SendDelay
	scfg.Session.ReadChunkSize = cfg.ReadChunkSize

	server := tcpserver.New(framing.LineDetector(), scfg)
	server.SetMessageListener(tcpsession.MessageFuncs{
		Message: func(key string, text string) {
			server.SendText(key, text)
		},
	})

	return server
}

func newStore(cfg config) (presence.Store, func()) {
	if cfg.RedisAddr == "" {
		return presence.NewMemoryStore(cache.NoExpiration, time.Minute), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return presence.NewRedisStore(client, "tcpecho:"+cfg.Node+":", 0), func() { _ = client.Close() }
}

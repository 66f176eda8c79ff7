package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/circkit/sip2/internal/admin"
	"github.com/circkit/sip2/internal/backend/demo"
	"github.com/circkit/sip2/internal/backend/mediator"
	"github.com/circkit/sip2/internal/config"
	"github.com/circkit/sip2/internal/logging"
	"github.com/circkit/sip2/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "sipd.toml", "path to server config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sipd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		ListenAddr:   cfg.ListenAddr,
		MaxConns:     cfg.MaxConns,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		TLS: server.TLSConfig{
			Enabled:  cfg.TLS.Enabled,
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		},
	}, backend)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adminSrv := admin.New(admin.Config{
		ListenAddr:  cfg.AdminAddr,
		CORSOrigins: cfg.Admin.CORSOrigins,
	}, srv)

	adminErr := make(chan error, 1)
	go func() {
		adminErr <- adminSrv.Serve(ctx)
	}()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

func buildBackend(cfg config.ServerConfig) (server.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendDemo:
		log.Info().Str("institution", cfg.Institution).Msg("using demo backend")
		return demo.New(cfg.Institution), nil
	case config.BackendMediator:
		log.Info().Str("url", cfg.Mediator.URL).Msg("using mediator backend")
		return mediator.New(mediator.Config{
			URL:                cfg.Mediator.URL,
			RequestTimeout:     cfg.MediatorRequestTimeout(),
			InsecureSkipVerify: cfg.Mediator.InsecureSkipVerify,
		})
	}
	return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
}

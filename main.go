package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/spf13/pflag"
	"github.com/synadia-labs/ccpm-web/internal/config"
	"github.com/synadia-labs/ccpm-web/internal/gateway"
	"github.com/synadia-labs/ccpm-web/internal/logging"
	"github.com/synadia-labs/ccpm-web/internal/service"
	"github.com/synadia-labs/ccpm-web/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("ccpm-web", pflag.ContinueOnError)
	cfgFile := flags.String("config", "", "YAML config file")
	envFile := flags.String("env-file", "", "dotenv file to load (default: .env if present)")
	port := flags.String("port", "", "HTTP listen port (overrides PORT)")
	err := flags.Parse(args)
	if err != nil {
		return err
	}

	err = config.LoadEnvFile(*envFile)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if *port != "" {
		cfg.Http.Port = *port
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.Setup(ctx, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		err := shutdown(context.Background())
		if err != nil {
			logger.Error("error shutting down telemetry", "error", err)
		}
	}()

	gw := gateway.NewGateway(cfg.Gateway, cfg.ServiceName, logger)

	if cfg.Workloads.Enabled() {
		natsCtx, cancelNats := service.GraceContext(ctx, service.ShutdownGrace)
		defer cancelNats()

		nc, svc, err := startNATS(natsCtx, cfg, gw, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		defer svc.Stop()
	}

	srv, err := service.NewHTTPServer(cfg, gw, logger)
	if err != nil {
		return err
	}

	logger.Info("service started", "service", cfg.ServiceName, "prefix", cfg.Gateway.Prefix)
	err = srv.Start(ctx)
	logger.Info("service stopped", "service", cfg.ServiceName)
	return err
}

func startNATS(ctx context.Context, cfg *config.Config, gw gateway.Gateway, logger *slog.Logger) (*nats.Conn, micro.Service, error) {
	// save user creds to file if inside a container
	if os.Getenv("container") != "" && cfg.Workloads.NatsJwt != "" {
		err := cfg.SaveCreds(logger)
		if err != nil {
			return nil, nil, err
		}
	}

	nc, err := nats.Connect(cfg.Workloads.NatsUrl, natsOptions(cfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to nats: %w", err)
	}

	svc, err := service.StartNATSMicro(ctx, nc, gw, logger)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, svc, nil
}

func natsOptions(cfg *config.Config) []nats.Option {
	opts := []nats.Option{nats.Name(service.Name)}
	if cfg.Workloads.NatsJwt != "" {
		opts = append(opts, nats.UserJWTAndSeed(cfg.Workloads.NatsJwt, cfg.Workloads.NatsNkey))
	}
	return opts
}

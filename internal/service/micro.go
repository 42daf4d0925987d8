package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/synadia-labs/ccpm-web/internal/gateway"
)

const (
	Name    = "CCPMGateway"
	Prefix  = "CCPM"
	Version = "0.1.0"
)

// StartNATSMicro exposes the gateway as a NATS micro service. Commands run
// under ctx, which should be a GraceContext so that shutdown treats them the
// same way as HTTP requests. The caller owns the returned service and must
// Stop it.
func StartNATSMicro(ctx context.Context, nc *nats.Conn, gw gateway.Gateway, logger *slog.Logger) (micro.Service, error) {
	svc, err := micro.AddService(nc, micro.Config{
		Name:        Name,
		Description: "NATS micro service forwarding CCPM commands.",
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating nats micro service: %w", err)
	}

	err = svc.AddEndpoint(
		"HEALTH",
		microLogHandler(logger, healthHandler(gw, logger)),
		micro.WithEndpointSubject(fmt.Sprintf("%s.HEALTH", Prefix)),
		micro.WithEndpointMetadata(map[string]string{
			"request": "",
		}),
	)
	if err != nil {
		svc.Stop()
		return nil, fmt.Errorf("error adding HEALTH endpoint: %w", err)
	}

	err = svc.AddEndpoint(
		"EXECUTE",
		microLogHandler(logger, executeHandler(ctx, gw, logger)),
		micro.WithEndpointSubject(fmt.Sprintf("%s.EXECUTE", Prefix)),
		micro.WithEndpointMetadata(map[string]string{
			"request": `{"command": "string"}`,
		}),
	)
	if err != nil {
		svc.Stop()
		return nil, fmt.Errorf("error adding EXECUTE endpoint: %w", err)
	}

	logger.Info("nats micro service started", "name", Name, "prefix", Prefix)
	return svc, nil
}

func microLogHandler(logger *slog.Logger, next micro.Handler) micro.Handler {
	return micro.HandlerFunc(func(r micro.Request) {
		logger.Info("nats request", "subject", r.Subject())
		next.Handle(r)
	})
}

func healthHandler(gw gateway.Gateway, logger *slog.Logger) micro.Handler {
	return micro.HandlerFunc(func(r micro.Request) {
		err := r.RespondJSON(gw.Health())
		if err != nil {
			logger.Error("health response error", "error", err)
		}
	})
}

func executeHandler(ctx context.Context, gw gateway.Gateway, logger *slog.Logger) micro.Handler {
	return micro.HandlerFunc(func(r micro.Request) {
		command, err := decodeExecuteRequest(r.Data())
		if err != nil {
			logger.Error("execute request error", "error", err)
			err = r.Error("400", fmt.Sprintf("execute request error: %s", err), nil)
			if err != nil {
				logger.Error("execute response error", "error", err)
			}
			return
		}

		result := gw.Execute(ctx, command)
		err = r.RespondJSON(result)
		if err != nil {
			logger.Error("execute response error", "error", err)
		}
	})
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/synadia-labs/ccpm-web/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	msgNoCommand = "No command provided"
	msgTimedOut  = "Command timed out"
)

var tracer = otel.Tracer("github.com/synadia-labs/ccpm-web/internal/gateway")

type Gateway interface {
	// run a prefixed command through the shell
	Execute(ctx context.Context, command string) Result

	// static liveness report
	Health() Health
}

func NewGateway(cfg config.GatewayConfig, serviceName string, logger *slog.Logger) Gateway {
	return &gateway{
		cfg:         cfg,
		serviceName: serviceName,
		logger:      logger,
	}
}

type gateway struct {
	cfg         config.GatewayConfig
	serviceName string
	logger      *slog.Logger
}

func (g *gateway) Health() Health {
	return Health{Status: "healthy", Service: g.serviceName}
}

func (g *gateway) Execute(ctx context.Context, command string) Result {
	command = strings.TrimSpace(command)
	name := commandName(command)

	ctx, span := tracer.Start(ctx, "gateway.execute", trace.WithAttributes(
		attribute.String("ccpm.command.name", name),
	))
	defer span.End()

	result := g.execute(ctx, command, name)
	if f, ok := result.(Failure); ok {
		span.SetAttributes(attribute.String("ccpm.failure.kind", string(f.Kind)))
		span.SetStatus(codes.Error, f.Message)
	}
	return result
}

func (g *gateway) execute(ctx context.Context, command, name string) Result {
	if command == "" {
		return Failure{Kind: KindEmptyCommand, Message: msgNoCommand}
	}

	// A plain prefix check. Anything after the prefix, shell operators
	// included, reaches the shell unchanged.
	if !strings.HasPrefix(command, g.cfg.Prefix) {
		g.logger.Warn("command rejected", "name", name)
		return Failure{
			Kind:    KindPrefixRejected,
			Message: fmt.Sprintf("Only CCPM commands are allowed (must start with %s)", g.cfg.Prefix),
		}
	}

	start := time.Now()
	out, err := g.run(ctx, command)
	duration := time.Since(start)

	var timeoutErr *timeoutError
	var exitErr *exitError
	switch {
	case err == nil:
		g.logger.Info("command succeeded", "name", name, "duration", duration)
		return Success{Output: out.Stdout, Stderr: out.Stderr}

	case errors.As(err, &timeoutErr):
		g.logger.Warn("command timed out", "name", name, "timeout", g.cfg.Timeout)
		return Failure{Kind: KindTimeout, Message: msgTimedOut}

	case errors.As(err, &exitErr):
		g.logger.Info("command failed", "name", name, "code", exitErr.code, "duration", duration)
		msg := out.Stderr
		if msg == "" {
			msg = out.Stdout
		}
		return Failure{Kind: KindNonZeroExit, Message: msg, ReturnCode: exitErr.code}

	default:
		g.logger.Error("error executing command", "name", name, "error", err)
		return Failure{Kind: KindInternal, Message: err.Error()}
	}
}

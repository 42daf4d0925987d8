package service

import (
	"context"
	"time"
)

// ShutdownGrace is how long in-flight commands may keep running after
// shutdown starts, on every transport.
const ShutdownGrace = 5 * time.Second

// GraceContext returns a context that outlives parent by grace. Commands run
// under it survive the shutdown signal long enough to finish and reply, and
// are cancelled once the grace period is over.
func GraceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(grace, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

package server

import (
	"context"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/forwarder"
	"github.com/preston-bernstein/power-usage-forwarder/internal/scheduler"
)

// Scheduler defines the minimal scheduler behavior needed by the server.
type Scheduler interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	Status() scheduler.Status
	TryTrigger(ctx context.Context, req forwarder.Request) (domain.RunReport, error)
}

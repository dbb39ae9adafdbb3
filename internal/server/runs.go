package server

import (
	"context"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/forwarder"
	"github.com/preston-bernstein/power-usage-forwarder/internal/scheduler"
	"github.com/preston-bernstein/power-usage-forwarder/internal/store"
)

// recordingRunner keeps every finished run in the in-memory history.
type recordingRunner struct {
	next scheduler.Runner
	runs *store.RunStore
}

func (r recordingRunner) Run(ctx context.Context, req forwarder.Request) (domain.RunReport, error) {
	report, err := r.next.Run(ctx, req)
	r.runs.Add(report)
	return report, err
}

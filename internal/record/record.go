// Package record persists one row per scenario run.
package record

import (
	"context"
	"time"
)

// Run is the outcome of one scenario run.
type Run struct {
	ID        string
	Instance  string
	Target    string
	Scenario  string
	Status    string
	Warnings  int
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

// Sink stores run records.
type Sink interface {
	Record(ctx context.Context, run Run) error
	Close() error
}

// NopSink drops every record.
type NopSink struct{}

func (NopSink) Record(context.Context, Run) error { return nil }
func (NopSink) Close() error                      { return nil }

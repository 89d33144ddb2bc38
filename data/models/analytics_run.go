package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
)

const (
	RunKindPerformance = "performance"
	RunKindAllocation  = "allocation"
	RunKindSignals     = "signals"
)

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailure = "failure"
)

type AnalyticsRun struct {
	Id           uuid.UUID   `db:"id"`
	Kind         string      `db:"kind"`
	Symbols      []string    `db:"symbols"`
	Status       string      `db:"status"`
	ErrorMessage null.String `db:"error_message"`
	CreatedAt    time.Time   `db:"created_at"`
	CompletedAt  null.Time   `db:"completed_at"`
}

func NewAnalyticsRun(kind string, symbols []string) *AnalyticsRun {
	return &AnalyticsRun{
		Id:        uuid.New(),
		Kind:      kind,
		Symbols:   symbols,
		Status:    RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
}

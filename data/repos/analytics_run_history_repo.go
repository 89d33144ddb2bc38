package repos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	m "quantlab/data/models"
	q "quantlab/data/queries"
)

func (pg *Postgres) InsertAnalyticsRun(ctx context.Context, run *m.AnalyticsRun) error {
	args := pgx.NamedArgs{
		"id":         run.Id,
		"kind":       run.Kind,
		"symbols":    run.Symbols,
		"status":     run.Status,
		"created_at": run.CreatedAt,
	}

	if _, err := pg.db.Exec(ctx, q.Get(q.QueryHelper.Insert.AnalyticsRun), args); err != nil {
		return fmt.Errorf("error inserting analytics run history: %w", err)
	}
	return nil
}

func (pg *Postgres) GetAnalyticsRun(ctx context.Context, id uuid.UUID) (*m.AnalyticsRun, error) {
	return QuerySingle[m.AnalyticsRun](ctx, pg, q.Get(q.QueryHelper.Select.AnalyticsRunById), pgx.NamedArgs{"id": id})
}

func (pg *Postgres) UpdateAnalyticsRunAsFailure(ctx context.Context, id uuid.UUID, errorMessage string) error {
	cleanErrorMessage := strings.TrimSpace(errorMessage)
	if cleanErrorMessage == "" {
		return fmt.Errorf("error message is required if analytics run is failing, occurred in %s", id)
	}

	return pg.updateAnalyticsRun(ctx, pgx.NamedArgs{
		"id":            id,
		"status":        m.RunStatusFailure,
		"error_message": cleanErrorMessage,
		"completed_at":  time.Now().UTC(),
	})
}

func (pg *Postgres) UpdateAnalyticsRunAsSuccess(ctx context.Context, id uuid.UUID) error {
	return pg.updateAnalyticsRun(ctx, pgx.NamedArgs{
		"id":            id,
		"status":        m.RunStatusSuccess,
		"error_message": nil,
		"completed_at":  time.Now().UTC(),
	})
}

func (pg *Postgres) updateAnalyticsRun(ctx context.Context, args pgx.NamedArgs) error {
	if _, err := pg.db.Exec(ctx, q.Get(q.QueryHelper.Update.AnalyticsRun), args); err != nil {
		return fmt.Errorf("error updating analytics run: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/barckcode/puyu-api/internal/domain"
	"github.com/barckcode/puyu-api/internal/repository"
)

// CreateRun records the start of a provisioning run.
func (r *Repository) CreateRun(ctx context.Context, run *domain.ProvisioningRun) error {
	const query = `INSERT INTO provisioning_runs (id, project_id, region, request, state, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at`
	request := run.Request
	if len(request) == 0 {
		request = json.RawMessage(`{}`)
	}
	err := r.pool.QueryRow(ctx, query,
		run.ID,
		run.ProjectID,
		run.Region,
		request,
		string(run.State),
		run.Status,
	).Scan(&run.StartedAt)
	return mapError(err)
}

// UpdateRun updates progress and outcome of a run. Empty fields keep their stored value.
func (r *Repository) UpdateRun(ctx context.Context, update domain.ProvisioningRunUpdate) error {
	const query = `UPDATE provisioning_runs
		SET state = COALESCE($2, state),
			status = COALESCE($3, status),
			error = COALESCE($4, error),
			error_kind = COALESCE($5, error_kind),
			orphans = COALESCE($6, orphans),
			completed_at = COALESCE($7, completed_at)
		WHERE id = $1`
	var orphans any
	if update.Orphans != nil {
		payload, err := json.Marshal(update.Orphans)
		if err != nil {
			return fmt.Errorf("encode orphans: %w", err)
		}
		orphans = payload
	}
	cmdTag, err := r.pool.Exec(ctx, query,
		update.ID,
		emptyToNil(string(update.State)),
		emptyToNil(update.Status),
		emptyToNil(update.Error),
		emptyToNil(update.ErrorKind),
		orphans,
		update.CompletedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetRun fetches a provisioning run.
func (r *Repository) GetRun(ctx context.Context, runID string) (*domain.ProvisioningRun, error) {
	const query = `SELECT id, project_id, region, request, state, status, error, error_kind, orphans, started_at, completed_at
		FROM provisioning_runs WHERE id = $1`
	var (
		run     domain.ProvisioningRun
		state   string
		orphans []byte
	)
	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID, &run.ProjectID, &run.Region, &run.Request, &state, &run.Status,
		&run.Error, &run.ErrorKind, &orphans, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	run.State = domain.ProvisioningState(state)
	if len(orphans) > 0 {
		if err := json.Unmarshal(orphans, &run.Orphans); err != nil {
			return nil, fmt.Errorf("decode orphans: %w", err)
		}
	}
	return &run, nil
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

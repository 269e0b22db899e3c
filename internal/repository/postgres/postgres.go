package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barckcode/puyu-api/internal/domain"
	"github.com/barckcode/puyu-api/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository = (*Repository)(nil)
	_ repository.NetworkRepository = (*Repository)(nil)
	_ repository.ComputeRepository = (*Repository)(nil)
	_ repository.RunRepository     = (*Repository)(nil)
)

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func deleteByID(ctx context.Context, pool *pgxpool.Pool, query string, id int64) error {
	cmdTag, err := pool.Exec(ctx, query, id)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateProject inserts a project and fills its id.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (name) VALUES ($1) RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, strings.TrimSpace(project.Name)).Scan(&project.ID, &project.CreatedAt)
	return mapError(err)
}

// GetProjectByID fetches a project.
func (r *Repository) GetProjectByID(ctx context.Context, projectID int64) (*domain.Project, error) {
	const query = `SELECT id, name, created_at FROM projects WHERE id = $1`
	var p domain.Project
	if err := r.pool.QueryRow(ctx, query, projectID).Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// ListProjects returns all projects ordered by creation.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	const query = `SELECT id, name, created_at FROM projects ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

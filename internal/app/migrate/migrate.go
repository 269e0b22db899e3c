package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/barckcode/puyu-api/db"
)

const commandTimeout = time.Minute

// Runner applies the schema for the mirrored cloud resources.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	fsys fs.FS
	log  *slog.Logger
}

// Migration describes one migration file and whether it has been applied.
type Migration struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// New returns a migration runner. An empty migrationsDir selects the migrations built into the binary.
func New(pool *pgxpool.Pool, dsn, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if log == nil {
		log = slog.Default()
	}
	fsys, err := source(migrationsDir)
	if err != nil {
		return Runner{}, err
	}
	return Runner{pool: pool, dsn: dsn, fsys: fsys, log: log}, nil
}

func source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(db.Migrations, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("locate migrations dir: %w", err)
	}
	return os.DirFS(dir), nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.log.Info("migration applied", "version", res.Source.Version, "path", res.Source.Path, "duration_ms", res.Duration.Milliseconds())
		}
		version, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		r.log.Info("schema up to date", "version", version, "applied", len(results))
		return nil
	})
}

// Status lists every known migration in version order.
func (r Runner) Status(ctx context.Context) ([]Migration, error) {
	var out []Migration
	err := r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		out = make([]Migration, 0, len(statuses))
		for _, st := range statuses {
			out = append(out, Migration{
				Version:   st.Source.Version,
				Path:      st.Source.Path,
				Applied:   st.State == goose.StateApplied,
				AppliedAt: st.AppliedAt,
			})
		}
		return nil
	})
	return out, err
}

// Down rolls back the latest migration, or every migration above targetVersion when it is positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if _, err := p.DownTo(ctx, targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
			return nil
		}
		res, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		r.log.Info("migration rolled back", "version", res.Source.Version)
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases underlying connections.
func (r Runner) Close() {
	r.pool.Close()
}

func (r Runner) withProvider(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	sqlDB, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, r.fsys)
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return fn(ctx, provider)
}

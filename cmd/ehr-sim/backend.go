package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrsim/internal/config"
	"github.com/ehr/ehrsim/internal/domain/clinicsim"
	"github.com/ehr/ehrsim/internal/platform/db"
	"github.com/ehr/ehrsim/internal/platform/sink"
)

// backend is the storage behind the configured sink. A run gets its own sink;
// SQL sinks of concurrent runs share the database and are told apart by run
// id.
type backend struct {
	kind   string
	sqlite *sql.DB
	pool   *pgxpool.Pool
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{kind: cfg.Sink}
	switch cfg.Sink {
	case config.SinkMemory:
	case config.SinkSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.sqlite = sqlDB
	case config.SinkPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		if _, err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b.pool = pool
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
	return b, nil
}

func (b *backend) Close() {
	if b.sqlite != nil {
		b.sqlite.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// simulate runs one simulation against a fresh sink and reports on it.
func (b *backend) simulate(ctx context.Context, sim clinicsim.Config, logger zerolog.Logger) (*report, error) {
	sim = sim.Resolved()
	logger = logger.With().Int64("seed", sim.Seed).Logger()

	var (
		s       sink.Sink
		rep     = &report{}
		mem     *sink.Memory
		counter recordCounter
	)
	switch b.kind {
	case config.SinkSQLite:
		sq, err := sink.NewSQLite(ctx, b.sqlite, sim.Seed, sim.Horizon)
		if err != nil {
			return nil, err
		}
		s, counter, rep.RunID = sq, sq, sq.RunID()
	case config.SinkPostgres:
		pg, err := sink.NewPostgres(ctx, b.pool, sim.Seed, sim.Horizon)
		if err != nil {
			return nil, err
		}
		s, counter, rep.RunID = pg, pg, pg.RunID()
	default:
		mem = sink.NewMemory(sim.Seed)
		s = mem
	}
	defer s.Close()

	summary, err := clinicsim.Run(ctx, sim, sink.WithLogging(s, logger), logger)
	if err != nil {
		return nil, err
	}
	rep.Summary = summary

	if mem != nil {
		rep.Digest = mem.Digest()
	}
	if counter != nil {
		rows, err := counter.CountRecords(ctx)
		if err != nil {
			return nil, err
		}
		rep.Rows = rows
	}
	return rep, nil
}

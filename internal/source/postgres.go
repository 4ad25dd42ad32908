package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/md-matcher/internal/directory"
)

// PostgresConfig describes where the directory lives in the warehouse.
type PostgresConfig struct {
	DirectorsTable string `mapstructure:"directors-table"`
	MetadataTable  string `mapstructure:"metadata-table"`
	ProvidersTable string `mapstructure:"providers-table"`
	// OpenStatuses are pushed down as an IN filter on the accepting status
	// column. Empty loads every director.
	OpenStatuses []string `mapstructure:"open-statuses"`
	// TicketStatuses restrict provider tickets to the matching queue.
	TicketStatuses []string `mapstructure:"ticket-statuses"`
	// ExcludeSubject drops tickets whose subject contains it, e.g. rematches.
	ExcludeSubject string `mapstructure:"exclude-subject"`

	DirectorColumns directory.DirectorColumns `mapstructure:"-"`
	ProviderColumns directory.ProviderColumns `mapstructure:"-"`
}

// DefaultPostgresConfig returns the tables and filters of the default mart.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		DirectorsTable:  "md_contacts",
		ProvidersTable:  "md_matching_tickets",
		OpenStatuses:    []string{"Open", "Open - Mid Level Only"},
		TicketStatuses:  []string{"Pending (MD Matching)"},
		ExcludeSubject:  "Match 2",
		DirectorColumns: directory.DefaultDirectorColumns(),
		ProviderColumns: directory.DefaultProviderColumns(),
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres loads the directory from a Postgres database.
type Postgres struct {
	db  querier
	cfg PostgresConfig
}

// NewPostgres opens a pgx pool for the DSN. Close releases it.
func NewPostgres(ctx context.Context, dsn string, cfg PostgresConfig) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres source needs a dsn")
	}
	if cfg.DirectorsTable == "" && cfg.MetadataTable == "" {
		return nil, errors.New("postgres source needs a directors or metadata table")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Postgres{db: pool, cfg: cfg}, nil
}

func (p *Postgres) Name() string { return "postgres" }

// Close releases the connection pool.
func (p *Postgres) Close() {
	if pool, ok := p.db.(*pgxpool.Pool); ok {
		pool.Close()
	}
}

func (p *Postgres) Load(ctx context.Context) (*directory.RawData, error) {
	raw := &directory.RawData{}

	if p.cfg.DirectorsTable != "" {
		query, args, err := DirectorsQuery(p.cfg.DirectorsTable, p.cfg)
		if err != nil {
			return nil, err
		}
		if raw.Directors, err = p.fetch(ctx, query, args); err != nil {
			return nil, fmt.Errorf("directors: %w", err)
		}
	}

	if p.cfg.MetadataTable != "" {
		query, args, err := DirectorsQuery(p.cfg.MetadataTable, p.cfg)
		if err != nil {
			return nil, err
		}
		if raw.Metadata, err = p.fetch(ctx, query, args); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	}

	if p.cfg.ProvidersTable != "" {
		query, args, err := TicketsQuery(p.cfg)
		if err != nil {
			return nil, err
		}
		if raw.Providers, err = p.fetch(ctx, query, args); err != nil {
			return nil, fmt.Errorf("tickets: %w", err)
		}
	}

	return raw, nil
}

func (p *Postgres) fetch(ctx context.Context, query string, args []any) ([]directory.Row, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	return DecodeRows(records)
}

// DirectorsQuery builds the director select for table, pushing the accepting
// status filter down to the database.
func DirectorsQuery(table string, cfg PostgresConfig) (string, []any, error) {
	ds := goqu.Dialect("postgres").From(goqu.I(table)).Prepared(true)

	if len(cfg.OpenStatuses) > 0 && cfg.DirectorColumns.AcceptingStatus != "" {
		ds = ds.Where(goqu.C(cfg.DirectorColumns.AcceptingStatus).In(cfg.OpenStatuses))
	}
	if cfg.DirectorColumns.LastName != "" {
		ds = ds.Order(goqu.C(cfg.DirectorColumns.LastName).Asc())
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build directors query: %w", err)
	}
	return query, args, nil
}

// TicketsQuery builds the provider ticket select.
func TicketsQuery(cfg PostgresConfig) (string, []any, error) {
	cols := cfg.ProviderColumns
	ds := goqu.Dialect("postgres").From(goqu.I(cfg.ProvidersTable)).Prepared(true)

	var conds []exp.Expression
	if cols.Email != "" {
		conds = append(conds, goqu.C(cols.Email).IsNotNull())
	}
	if len(cfg.TicketStatuses) > 0 && cols.TicketStatus != "" {
		conds = append(conds, goqu.C(cols.TicketStatus).In(cfg.TicketStatuses))
	}
	if cfg.ExcludeSubject != "" && cols.Name != "" {
		conds = append(conds, goqu.C(cols.Name).NotLike("%"+cfg.ExcludeSubject+"%"))
	}
	if len(conds) > 0 {
		ds = ds.Where(conds...)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build tickets query: %w", err)
	}
	return query, args, nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"knowledge-api/internal/models"
)

type Job struct {
	bun.BaseModel `bun:"table:ingest_jobs,alias:j"`
	ID            string     `bun:"id,pk"`
	Filename      string     `bun:"filename,notnull"`
	DocumentName  string     `bun:"document_name,notnull"`
	Status        string     `bun:"status,notnull"`
	Error         string     `bun:"error"`
	PageCount     int        `bun:"page_count"`
	ChunkCount    int        `bun:"chunk_count"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	StartedAt     *time.Time `bun:"started_at,nullzero"`
	FinishedAt    *time.Time `bun:"finished_at,nullzero"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(debug)))
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*Job)(nil)).IfNotExists().Exec(ctx)
	return err
}

// drop table ingest_jobs
func DropJobs(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Job)(nil)).IfExists().Exec(ctx)
	return err
}

// PostgresJobStore keeps job records in PostgreSQL so they survive restarts.
type PostgresJobStore struct {
	db *bun.DB
}

// NewPostgresJobStore connects, checks the connection and creates the table
// if needed.
func NewPostgresJobStore(ctx context.Context, dsn string, debug bool) (*PostgresJobStore, error) {
	db := NewDB(ConnectDB(dsn), debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to job database: %w", err)
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobs table: %w", err)
	}
	return &PostgresJobStore{db: db}, nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job *models.Job) error {
	if _, err := s.db.NewInsert().Model(fromModel(job)).Exec(ctx); err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := new(Job)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *PostgresJobStore) Update(ctx context.Context, job *models.Job) error {
	res, err := s.db.NewUpdate().Model(fromModel(job)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func fromModel(j *models.Job) *Job {
	return &Job{
		ID:           j.ID,
		Filename:     j.Filename,
		DocumentName: j.DocumentName,
		Status:       string(j.Status),
		Error:        j.Error,
		PageCount:    j.PageCount,
		ChunkCount:   j.ChunkCount,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
}

func (j *Job) toModel() *models.Job {
	return &models.Job{
		ID:           j.ID,
		Filename:     j.Filename,
		DocumentName: j.DocumentName,
		Status:       models.JobStatus(j.Status),
		Error:        j.Error,
		PageCount:    j.PageCount,
		ChunkCount:   j.ChunkCount,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
}

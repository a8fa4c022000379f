package access

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore reads canvas grants from the main application database.
// It owns no tables; the canvas CRUD service writes them.
type PostgresStore struct {
	db *sql.DB
}

func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CanAccess reports whether userID may open a live session on documentID:
// the canvas owner always may, a collaborator only when the shared role
// admits syncing.
func (s *PostgresStore) CanAccess(ctx context.Context, userID, documentID string) (bool, error) {
	const ownerQuery = `
		SELECT EXISTS (
			SELECT 1 FROM canvases WHERE canvas_id = $1 AND owner_id = $2
		)
	`
	var owner bool
	if err := s.db.QueryRowContext(ctx, ownerQuery, documentID, userID).Scan(&owner); err != nil {
		return false, fmt.Errorf("check canvas owner: %w", err)
	}
	if owner {
		return true, nil
	}

	const collabQuery = `
		SELECT role FROM canvas_collaborators WHERE canvas_id = $1 AND user_id = $2
	`
	var role string
	err := s.db.QueryRowContext(ctx, collabQuery, documentID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check canvas collaborator: %w", err)
	}
	return NormalizeRole(role).CanSync(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

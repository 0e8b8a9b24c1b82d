package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id                    TEXT PRIMARY KEY,
	chat_id               TEXT NOT NULL,
	message_id            TEXT NOT NULL DEFAULT '',
	action_id             TEXT NOT NULL DEFAULT '',
	operations            JSONB NOT NULL,
	rollback_instructions JSONB NOT NULL,
	instruction_version   INTEGER NOT NULL,
	file_path             TEXT NOT NULL DEFAULT '',
	size_bytes            BIGINT NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL,
	deleted               BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at            TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS snapshots_chat_id_idx ON snapshots (chat_id);
CREATE INDEX IF NOT EXISTS snapshots_action_id_idx ON snapshots (action_id);
CREATE INDEX IF NOT EXISTS snapshots_message_id_idx ON snapshots (message_id);
CREATE INDEX IF NOT EXISTS snapshots_created_at_idx ON snapshots (created_at);
`

const selectColumns = `
	id, chat_id, message_id, action_id, operations, rollback_instructions,
	instruction_version, file_path, size_bytes, created_at, deleted, deleted_at
`

// PostgresRepository stores snapshot rows in the snapshots table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connectionString string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// EnsureSchema creates the snapshots table and its indexes if missing.
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create snapshots schema: %w", err)
	}
	return nil
}

func (p *PostgresRepository) Close() {
	p.pool.Close()
}

func (p *PostgresRepository) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO snapshots (
			id, chat_id, message_id, action_id, operations, rollback_instructions,
			instruction_version, file_path, size_bytes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := p.pool.Exec(ctx, query,
		rec.ID, rec.ChatID, rec.MessageID, rec.ActionID,
		string(rec.Operations), string(rec.Instructions),
		rec.InstructionVersion, rec.FilePath, rec.SizeBytes, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot %s: %w", rec.ID, err)
	}
	return nil
}

func (p *PostgresRepository) UpdateSize(ctx context.Context, id string, size int64) error {
	tag, err := p.pool.Exec(ctx, "UPDATE snapshots SET size_bytes = $2 WHERE id = $1", id, size)
	if err != nil {
		return fmt.Errorf("failed to update size of snapshot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.ChatID, &rec.MessageID, &rec.ActionID,
		&rec.Operations, &rec.Instructions,
		&rec.InstructionVersion, &rec.FilePath, &rec.SizeBytes, &rec.CreatedAt,
		&rec.Deleted, &rec.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresRepository) getOne(ctx context.Context, where string, arg string) (*Record, error) {
	query := "SELECT " + selectColumns + " FROM snapshots WHERE " + where + " AND NOT deleted ORDER BY created_at DESC LIMIT 1"

	rec, err := scanRecord(p.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return rec, nil
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	return p.getOne(ctx, "id = $1", id)
}

func (p *PostgresRepository) GetByAction(ctx context.Context, actionID string) (*Record, error) {
	return p.getOne(ctx, "action_id = $1", actionID)
}

func (p *PostgresRepository) GetByMessage(ctx context.Context, messageID string) (*Record, error) {
	return p.getOne(ctx, "message_id = $1", messageID)
}

func (p *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return records, nil
}

func (p *PostgresRepository) ListByChat(ctx context.Context, chatID string) ([]Record, error) {
	return p.list(ctx,
		"SELECT "+selectColumns+" FROM snapshots WHERE chat_id = $1 AND NOT deleted ORDER BY created_at DESC",
		chatID)
}

func (p *PostgresRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error) {
	return p.list(ctx,
		"SELECT "+selectColumns+" FROM snapshots WHERE created_at < $1 ORDER BY created_at ASC",
		cutoff)
}

func (p *PostgresRepository) ListOldestFirst(ctx context.Context) ([]Record, error) {
	return p.list(ctx, "SELECT "+selectColumns+" FROM snapshots ORDER BY created_at ASC")
}

func (p *PostgresRepository) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COALESCE(SUM(size_bytes), 0) FROM snapshots").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum snapshot sizes: %w", err)
	}
	return total, nil
}

func (p *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		"UPDATE snapshots SET deleted = TRUE, deleted_at = $2 WHERE id = $1 AND NOT deleted", id, at)
	if err != nil {
		return fmt.Errorf("failed to soft delete snapshot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresRepository) SoftDeleteByChat(ctx context.Context, chatID string, at time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx,
		"UPDATE snapshots SET deleted = TRUE, deleted_at = $2 WHERE chat_id = $1 AND NOT deleted", chatID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete snapshots of chat %s: %w", chatID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresRepository) HardDelete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM snapshots WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"Sutian/internal/core/definitions"
)

// DefinitionRepository reads and maintains definitions in PostgreSQL
type DefinitionRepository struct {
	db *sql.DB
}

// NewDefinitionRepository creates a new PostgreSQL definition repository
func NewDefinitionRepository(db *sql.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

const definitionColumns = `id, headword, content, author_user_id, upvotes, downvotes, vote_score, created_at`

// Create inserts a definition and fills in its id and created_at
func (r *DefinitionRepository) Create(ctx context.Context, def *definitions.Definition) error {
	query := `
		INSERT INTO definitions (headword, content, author_user_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query, def.Headword, def.Content, def.AuthorUserID).Scan(&def.ID, &def.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert definition: %w", err)
	}
	return nil
}

// GetByID retrieves a definition by id
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*definitions.Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM definitions WHERE id = $1`

	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, definitions.ErrDefinitionNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "invalid_text_representation" {
			return nil, definitions.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// ListByIDs retrieves the definitions that exist among ids
func (r *DefinitionRepository) ListByIDs(ctx context.Context, ids []string) ([]*definitions.Definition, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + definitionColumns + ` FROM definitions WHERE id = ANY($1::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*definitions.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		result = append(result, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}
	return result, nil
}

// ListIDs returns the ids of every definition, most recent first, up to limit.
// limit <= 0 returns all of them.
func (r *DefinitionRepository) ListIDs(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT id FROM definitions ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list definition ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan definition id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecountVotes recomputes every definition's counters from the votes table and
// returns the number of definitions whose stored counters were wrong
func (r *DefinitionRepository) RecountVotes(ctx context.Context) (int64, error) {
	query := `
		WITH counts AS (
			SELECT d.id,
			       COUNT(v.id) FILTER (WHERE v.vote_type = 'upvote') AS up,
			       COUNT(v.id) FILTER (WHERE v.vote_type = 'downvote') AS down
			FROM definitions d
			LEFT JOIN votes v ON v.target_id = d.id
			GROUP BY d.id
		)
		UPDATE definitions d
		SET upvotes = c.up, downvotes = c.down, vote_score = c.up - c.down
		FROM counts c
		WHERE d.id = c.id
		  AND (d.upvotes <> c.up OR d.downvotes <> c.down OR d.vote_score <> c.up - c.down)
	`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to recount votes: %w", err)
	}
	fixed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check recount result: %w", err)
	}
	return fixed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*definitions.Definition, error) {
	var def definitions.Definition
	err := row.Scan(
		&def.ID, &def.Headword, &def.Content, &def.AuthorUserID,
		&def.Upvotes, &def.Downvotes, &def.VoteScore, &def.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

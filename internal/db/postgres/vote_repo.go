package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"Sutian/internal/core/votes"
)

type postgresVoteRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVoteRepository creates the PostgreSQL vote store used by the coordinator
func NewVoteRepository(db *sql.DB, logger *slog.Logger) votes.Persistence {
	if logger == nil {
		logger = slog.Default()
	}
	return &postgresVoteRepo{db: db, logger: logger}
}

const voteColumns = `id, target_id, user_id, vote_type, created_at`

// UpsertVote inserts or updates the vote on (target_id, user_id) and moves the
// definition's counters by the same transition, all in one transaction.
// The definition row is locked first so concurrent votes on one definition
// apply their counter deltas one after another.
func (r *postgresVoteRepo) UpsertVote(ctx context.Context, targetID, userID string, voteType votes.VoteType) (*votes.VoteRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	if err := lockDefinition(ctx, tx, targetID); err != nil {
		return nil, err
	}

	prev, err := currentVoteType(ctx, tx, targetID, userID)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO votes (target_id, user_id, vote_type)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT unique_target_user DO UPDATE
		SET vote_type = EXCLUDED.vote_type,
		    created_at = CASE
		        WHEN votes.vote_type <> EXCLUDED.vote_type THEN NOW()
		        ELSE votes.created_at
		    END
		RETURNING ` + voteColumns

	var rec votes.VoteRecord
	err = tx.QueryRowContext(ctx, query, targetID, userID, voteType).Scan(
		&rec.ID, &rec.TargetID, &rec.UserID, &rec.VoteType, &rec.CreatedAt,
	)
	if err != nil {
		return nil, classifyVoteError("failed to upsert vote", err)
	}

	if err := applyCounterDelta(ctx, tx, targetID, votes.TransitionDelta(prev, &voteType)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &rec, nil
}

// DeleteVote removes the vote and decrements the definition's counters.
// Idempotent: deleting a vote that does not exist succeeds.
func (r *postgresVoteRepo) DeleteVote(ctx context.Context, targetID, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	if err := lockDefinition(ctx, tx, targetID); err != nil {
		if errors.Is(err, votes.ErrNotFound) {
			return nil
		}
		return err
	}

	var removed votes.VoteType
	err = tx.QueryRowContext(ctx,
		`DELETE FROM votes WHERE target_id = $1 AND user_id = $2 RETURNING vote_type`,
		targetID, userID,
	).Scan(&removed)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Debug("vote already deleted", "target", targetID, "voter", userID)
		return tx.Commit()
	}
	if err != nil {
		return classifyVoteError("failed to delete vote", err)
	}

	if err := applyCounterDelta(ctx, tx, targetID, votes.TransitionDelta(&removed, nil)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FetchVotesForUser loads userID's votes on targetIDs, or all of them when
// targetIDs is empty
func (r *postgresVoteRepo) FetchVotesForUser(ctx context.Context, userID string, targetIDs []string) ([]*votes.VoteRecord, error) {
	query := `SELECT ` + voteColumns + ` FROM votes WHERE user_id = $1`
	args := []any{userID}
	if len(targetIDs) > 0 {
		query += ` AND target_id = ANY($2::uuid[])`
		args = append(args, pq.Array(targetIDs))
	}
	query += ` ORDER BY created_at DESC`

	return r.queryVotes(ctx, "failed to fetch user votes", query, args...)
}

// FetchAggregate reads the stored counters of a definition
func (r *postgresVoteRepo) FetchAggregate(ctx context.Context, targetID string) (*votes.Aggregate, error) {
	var agg votes.Aggregate
	err := r.db.QueryRowContext(ctx,
		`SELECT vote_score, upvotes, downvotes FROM definitions WHERE id = $1`,
		targetID,
	).Scan(&agg.Score, &agg.Upvotes, &agg.Downvotes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("definition %s: %w", targetID, votes.ErrNotFound)
	}
	if err != nil {
		return nil, classifyVoteError("failed to fetch vote aggregate", err)
	}
	return &agg, nil
}

// ListAll returns every vote, oldest first
func (r *postgresVoteRepo) ListAll(ctx context.Context) ([]*votes.VoteRecord, error) {
	query := `SELECT ` + voteColumns + ` FROM votes ORDER BY created_at ASC, id ASC`
	return r.queryVotes(ctx, "failed to list votes", query)
}

func (r *postgresVoteRepo) queryVotes(ctx context.Context, msg, query string, args ...any) ([]*votes.VoteRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyVoteError(msg, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*votes.VoteRecord
	for rows.Next() {
		var rec votes.VoteRecord
		if err := rows.Scan(&rec.ID, &rec.TargetID, &rec.UserID, &rec.VoteType, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return result, nil
}

func (r *postgresVoteRepo) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.Error("failed to rollback transaction", "error", err)
	}
}

func lockDefinition(ctx context.Context, tx *sql.Tx, targetID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM definitions WHERE id = $1 FOR UPDATE`, targetID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("definition %s: %w", targetID, votes.ErrNotFound)
	}
	if err != nil {
		return classifyVoteError("failed to lock definition", err)
	}
	return nil
}

func currentVoteType(ctx context.Context, tx *sql.Tx, targetID, userID string) (*votes.VoteType, error) {
	var vt votes.VoteType
	err := tx.QueryRowContext(ctx,
		`SELECT vote_type FROM votes WHERE target_id = $1 AND user_id = $2`,
		targetID, userID,
	).Scan(&vt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyVoteError("failed to read existing vote", err)
	}
	return &vt, nil
}

// applyCounterDelta moves the stored counters. Counts never go below zero.
func applyCounterDelta(ctx context.Context, tx *sql.Tx, targetID string, d votes.Delta) error {
	if d.IsZero() {
		return nil
	}
	query := `
		UPDATE definitions
		SET upvotes = GREATEST(0, upvotes + $2),
		    downvotes = GREATEST(0, downvotes + $3),
		    vote_score = GREATEST(0, upvotes + $2) - GREATEST(0, downvotes + $3)
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, targetID, d.Upvotes, d.Downvotes); err != nil {
		return classifyVoteError("failed to update definition counters", err)
	}
	return nil
}

// classifyVoteError maps constraint violations onto vote error kinds
func classifyVoteError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "foreign_key_violation":
			return fmt.Errorf("%s: %w", msg, votes.ErrNotFound)
		case "check_violation", "invalid_text_representation":
			return fmt.Errorf("%s: %w", msg, votes.NewValidationError(pqErr.Column, pqErr.Message))
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

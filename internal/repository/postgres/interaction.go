package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"learning-agent/internal/logger"
	"learning-agent/internal/repository/db"

	"github.com/sirupsen/logrus"
)

const interactionColumns = `id, timestamp, interaction_id, conversation_id, turn_index, original_prompt,
	mode, intent, topic, rewritten_prompt, chosen_version, final_prompt, final_answer, socratic_system_prompt`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (*db.Interaction, error) {
	var (
		in                                                    db.Interaction
		interactionID, mode, intent, topic, rewritten, chosen sql.NullString
		finalPrompt, finalAnswer, socratic                    sql.NullString
	)
	err := row.Scan(&in.ID, &in.Timestamp, &interactionID, &in.ConversationID, &in.TurnIndex, &in.OriginalPrompt,
		&mode, &intent, &topic, &rewritten, &chosen, &finalPrompt, &finalAnswer, &socratic)
	if err != nil {
		return nil, err
	}
	in.InteractionID = nullable(interactionID)
	in.Mode = nullable(mode)
	in.Intent = nullable(intent)
	in.Topic = nullable(topic)
	in.RewrittenPrompt = nullable(rewritten)
	in.ChosenVersion = nullable(chosen)
	in.FinalPrompt = nullable(finalPrompt)
	in.FinalAnswer = nullable(finalAnswer)
	in.SocraticSystemPrompt = nullable(socratic)
	return &in, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// CreateInteraction inserts a new interaction and fills in its id and timestamp
func (p *PostgresDB) CreateInteraction(ctx context.Context, in *db.Interaction) error {
	query := `
	INSERT INTO interactions (interaction_id, conversation_id, turn_index, original_prompt, mode, intent, topic,
		rewritten_prompt, chosen_version, final_prompt, final_answer, socratic_system_prompt)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id, timestamp
	`
	err := p.conn.QueryRowContext(ctx, query,
		in.InteractionID, in.ConversationID, in.TurnIndex, in.OriginalPrompt, in.Mode, in.Intent, in.Topic,
		in.RewrittenPrompt, in.ChosenVersion, in.FinalPrompt, in.FinalAnswer, in.SocraticSystemPrompt,
	).Scan(&in.ID, &in.Timestamp)
	if err != nil {
		return fmt.Errorf("error creating interaction: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"id":              in.ID,
		"conversation_id": in.ConversationID,
		"turn_index":      in.TurnIndex,
	}).Info("Interaction logged")
	return nil
}

// GetInteractionByInteractionID finds the interaction logged for an /interact call
func (p *PostgresDB) GetInteractionByInteractionID(ctx context.Context, interactionID string) (*db.Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE interaction_id = $1 ORDER BY id LIMIT 1`
	in, err := scanInteraction(p.conn.QueryRowContext(ctx, query, interactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error querying interaction: %w", err)
	}
	return in, nil
}

// CompleteInteraction records the answer for a logged interaction
func (p *PostgresDB) CompleteInteraction(ctx context.Context, id int64, c db.Completion) error {
	query := `
	UPDATE interactions
	SET final_prompt = $2, final_answer = $3, chosen_version = $4,
		socratic_system_prompt = COALESCE($5, socratic_system_prompt)
	WHERE id = $1
	`
	res, err := p.conn.ExecContext(ctx, query, id, c.FinalPrompt, c.FinalAnswer, c.ChosenVersion, c.SocraticSystemPrompt)
	if err != nil {
		return fmt.Errorf("error completing interaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// NextTurnIndex returns one past the highest turn index in the conversation, or 0
func (p *PostgresDB) NextTurnIndex(ctx context.Context, conversationID string) (int, error) {
	var next int
	query := `SELECT COALESCE(MAX(turn_index) + 1, 0) FROM interactions WHERE conversation_id = $1`
	if err := p.conn.QueryRowContext(ctx, query, conversationID).Scan(&next); err != nil {
		return 0, fmt.Errorf("error querying turn index: %w", err)
	}
	return next, nil
}

// GetRecentInteractions returns the last limit interactions in chronological order
func (p *PostgresDB) GetRecentInteractions(ctx context.Context, conversationID string, limit int) ([]db.Interaction, error) {
	query := `
	SELECT * FROM (
		SELECT ` + interactionColumns + ` FROM interactions
		WHERE conversation_id = $1
		ORDER BY turn_index DESC, id DESC
		LIMIT $2
	) recent
	ORDER BY turn_index ASC, id ASC
	`
	return p.queryInteractions(ctx, query, conversationID, limit)
}

// GetCompletedInteractionsAfter returns answered interactions after turnIndex, most recent first
func (p *PostgresDB) GetCompletedInteractionsAfter(ctx context.Context, conversationID string, turnIndex int) ([]db.Interaction, error) {
	query := `
	SELECT ` + interactionColumns + ` FROM interactions
	WHERE conversation_id = $1 AND turn_index > $2 AND final_answer IS NOT NULL
	ORDER BY turn_index DESC, id DESC
	`
	return p.queryInteractions(ctx, query, conversationID, turnIndex)
}

// GetLatestSocraticInteraction returns the most recent interaction holding a Socratic prompt
func (p *PostgresDB) GetLatestSocraticInteraction(ctx context.Context, conversationID string) (*db.Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions
	WHERE conversation_id = $1 AND socratic_system_prompt IS NOT NULL
	ORDER BY turn_index DESC, id DESC LIMIT 1`
	in, err := scanInteraction(p.conn.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error querying socratic prompt: %w", err)
	}
	return in, nil
}

// ClearSocraticPrompt removes the stored Socratic prompt from an interaction
func (p *PostgresDB) ClearSocraticPrompt(ctx context.Context, id int64) error {
	if _, err := p.conn.ExecContext(ctx, `UPDATE interactions SET socratic_system_prompt = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error clearing socratic prompt: %w", err)
	}
	logger.Log.WithField("id", id).Info("Cleared Socratic prompt")
	return nil
}

func (p *PostgresDB) queryInteractions(ctx context.Context, query string, args ...any) ([]db.Interaction, error) {
	rows, err := p.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying interactions: %w", err)
	}
	defer rows.Close()

	var out []db.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning interaction: %w", err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interactions: %w", err)
	}
	return out, nil
}

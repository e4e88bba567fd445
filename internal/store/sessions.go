package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	serrors "github.com/scopedeck/scopedeck/internal/errors"
	"github.com/scopedeck/scopedeck/internal/intake"
	"github.com/scopedeck/scopedeck/internal/llm"
)

// LoadSession retrieves the intake session for a project. A project with
// no session yet gets a fresh DialogueState.
func (s *Store) LoadSession(projectID string) (*intake.DialogueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		state   string
		asked   int
		history string
		prompt  string
		options string
	)
	err := s.db.QueryRow(`
	SELECT state, questions_asked, history, pending_intent_prompt, pending_intent_options
	FROM intake_sessions WHERE project_id = ?`, projectID).Scan(
		&state, &asked, &history, &prompt, &options,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return intake.NewDialogueState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	ds := &intake.DialogueState{
		State:               intake.State(state),
		QuestionsAsked:      asked,
		PendingIntentPrompt: prompt,
	}
	if err := json.Unmarshal([]byte(history), &ds.History); err != nil {
		return nil, fmt.Errorf("failed to decode session history: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &ds.PendingIntentOptions); err != nil {
		return nil, fmt.Errorf("failed to decode intent options: %w", err)
	}
	return ds, nil
}

// SaveSession upserts the intake session for a project.
func (s *Store) SaveSession(projectID string, ds *intake.DialogueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := ds.History
	if history == nil {
		history = []llm.Turn{}
	}
	encodedHistory, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode session history: %w", err)
	}
	options := ds.PendingIntentOptions
	if options == nil {
		options = []intake.IntentOption{}
	}
	encodedOptions, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to encode intent options: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.Exec(`
	INSERT INTO intake_sessions (project_id, state, questions_asked, history, pending_intent_prompt, pending_intent_options, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		state = excluded.state,
		questions_asked = excluded.questions_asked,
		history = excluded.history,
		pending_intent_prompt = excluded.pending_intent_prompt,
		pending_intent_options = excluded.pending_intent_options,
		updated_at = excluded.updated_at`,
		projectID, string(ds.State), ds.QuestionsAsked,
		string(encodedHistory), ds.PendingIntentPrompt, string(encodedOptions),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession removes a project's intake session.
func (s *Store) DeleteSession(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM intake_sessions WHERE project_id = ?", projectID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

// RunRetention removes intake sessions idle past the cutoff. Completed
// sessions keep their project record; only the conversation state goes.
func (s *Store) RunRetention(ctx context.Context, maxIdle time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM intake_sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("stale intake sessions removed")
	}
	return n, nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learning-agent/internal/domain"
	"learning-agent/internal/persistence"
	"learning-agent/internal/store"
	"learning-agent/internal/workflow"
)

var (
	// ErrAmbiguousConversation is returned when an id prefix matches several conversations
	ErrAmbiguousConversation = errors.New("conversation id prefix is ambiguous")
	// ErrBackendUnreachable is returned when the backend health check fails before a chat or ask
	ErrBackendUnreachable = errors.New("backend is unreachable")
)

type session struct {
	store   *store.Store
	adapter *persistence.BoltAdapter
	backend workflow.Backend
}

// healthTimeout bounds the health check run before talking to the backend
const healthTimeout = 5 * time.Second

// healthChecker is implemented by backends that expose a health endpoint
type healthChecker interface {
	Health(ctx context.Context) error
}

// openSession opens the conversation database. The backend is only built and checked when
// withBackend is set, so local commands work without a reachable server.
func (a *app) openSession(ctx context.Context, withBackend bool) (*session, error) {
	adapter, err := persistence.OpenBolt(a.cfg.StorePath)
	if err != nil {
		return nil, err
	}
	st, err := store.New(adapter)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("error loading conversations: %w", err)
	}

	s := &session{store: st, adapter: adapter}
	if withBackend {
		b, err := a.newBackend(a.cfg)
		if err != nil {
			adapter.Close()
			return nil, err
		}
		if err := checkHealth(ctx, b, a.cfg.BackendURL); err != nil {
			adapter.Close()
			return nil, err
		}
		s.backend = b
	}
	return s, nil
}

func checkHealth(ctx context.Context, b workflow.Backend, url string) error {
	checker, ok := b.(healthChecker)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := checker.Health(ctx); err != nil {
		return fmt.Errorf("%w at %s: %v", ErrBackendUnreachable, url, err)
	}
	return nil
}

func (s *session) Close() error {
	return s.adapter.Close()
}

// resolveConversation finds a stored conversation by its id or a unique id prefix
func (s *session) resolveConversation(ref string) (domain.Summary, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Summary{}, store.ErrConversationNotFound
	}

	var matches []domain.Summary
	for _, summary := range s.store.List() {
		if summary.ID == ref {
			return summary, nil
		}
		if strings.HasPrefix(summary.ID, ref) {
			matches = append(matches, summary)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Summary{}, fmt.Errorf("%w: %s", store.ErrConversationNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return domain.Summary{}, fmt.Errorf("%w: %q matches %d conversations", ErrAmbiguousConversation, ref, len(matches))
	}
}

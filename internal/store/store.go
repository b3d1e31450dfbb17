package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jw6ventures/taskcal/internal/metrics"
)

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("conflict")

type pinger interface {
	Ping(ctx context.Context) error
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool pinger

	Users         UserRepository
	Lists         ListRepository
	Collaborators CollaboratorRepository
	Tasks         TaskRepository
	Activities    ActivityRepository
	Connections   ConnectionRepository
	EventMappings EventMappingRepository
	FeedTokens    FeedTokenRepository
}

// New wires concrete repository implementations with shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:          pool,
		Users:         &userRepo{db: pool},
		Lists:         &listRepo{db: pool},
		Collaborators: &collaboratorRepo{db: pool},
		Tasks:         &taskRepo{db: pool},
		Activities:    &activityRepo{db: pool},
		Connections:   &connectionRepo{db: pool},
		EventMappings: &eventMappingRepo{db: pool},
		FeedTokens:    &feedTokenRepo{db: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

func observeDB(ctx context.Context, operation string) func() {
	start := time.Now()
	return func() {
		metrics.ObserveDBLatency(ctx, operation, start)
	}
}

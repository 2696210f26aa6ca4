package chat

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/pkg/log"
)

// Service is the conversation consistency core. Every write runs in a
// single SQLite transaction; change events are emitted after commit.
type Service struct {
	db       *sql.DB
	clock    clock.Clock
	notifier Notifier
	pusher   Pusher
	logger   zerolog.Logger
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithPusher(p Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(conn *sql.DB, opts ...Option) *Service {
	s := &Service{
		db:     conn,
		clock:  clock.New(),
		logger: log.WithComponent("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier replaces the change-event sink. It is meant for wiring at
// startup, before requests are served.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) now() int64 {
	return s.clock.Now().UnixMilli()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return internal("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return internal("failed to commit transaction", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return invalid("invalid id")
	}
	return nil
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := validateID(id); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func wrapStorage(op string, err error) error {
	return internal(fmt.Sprintf("failed to %s", op), err)
}

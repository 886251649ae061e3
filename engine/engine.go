package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// =============================================================================
// ENGINE
// =============================================================================

const (
	DefaultColor            = "#3b82f6"
	DefaultMaxWindowDays    = 731
	DefaultPromotionRetries = 3
)

// Engine answers queries and applies mutations over a Repository and a
// CompletionLedger. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	repo   Repository
	ledger CompletionLedger
	shared bool // ledger is repo

	log              *log.Logger
	maxWindowDays    int
	promotionRetries int
	defaultColor     string
	now              func() time.Time
	newID            func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMaxWindowDays bounds the length of a query window. Values below 1 keep
// the default.
func WithMaxWindowDays(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWindowDays = n
		}
	}
}

// WithPromotionRetries sets how many times promotion repeats its find step
// after losing an insert race.
func WithPromotionRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.promotionRetries = n
		}
	}
}

func WithDefaultColor(c string) Option {
	return func(e *Engine) {
		if c != "" {
			e.defaultColor = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// ErrNoLedger is returned by New when no CompletionLedger is available.
var ErrNoLedger = errors.New("engine: no completion ledger")

// New creates an engine. A nil ledger means repo must implement
// CompletionLedger itself.
//
// The ledger joins the repository's transactions only when it is the same
// value as repo. A separate ledger is called outside them, so it must not
// share a lock with repo (a wrapper around a *store.Memory plus the bare
// *store.Memory deadlocks inside WithTx).
func New(repo Repository, ledger CompletionLedger, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("engine: nil repository")
	}
	e := &Engine{
		repo:             repo,
		ledger:           ledger,
		log:              log.New(io.Discard),
		maxWindowDays:    DefaultMaxWindowDays,
		promotionRetries: DefaultPromotionRetries,
		defaultColor:     DefaultColor,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
	}
	if ledger == nil {
		l, ok := repo.(CompletionLedger)
		if !ok {
			return nil, ErrNoLedger
		}
		e.ledger = l
	}
	if l, ok := repo.(CompletionLedger); ok && l == e.ledger {
		e.shared = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// atomically runs fn inside a repository transaction when one is available.
// When the ledger is the repository itself, fn receives the transactional
// ledger as well.
func (e *Engine) atomically(ctx context.Context, fn func(Repository, CompletionLedger) error) error {
	txr, ok := e.repo.(TxRepository)
	if !ok {
		return fn(e.repo, e.ledger)
	}
	return txr.WithTx(ctx, func(tx Repository) error {
		return fn(tx, e.ledgerFor(tx))
	})
}

func (e *Engine) ledgerFor(tx Repository) CompletionLedger {
	if !e.shared {
		return e.ledger
	}
	if l, ok := tx.(CompletionLedger); ok {
		return l
	}
	return e.ledger
}

func requireOwner(owner OwnerID) error {
	if owner == "" {
		return &ValidationError{Field: "owner", Message: "is required"}
	}
	return nil
}

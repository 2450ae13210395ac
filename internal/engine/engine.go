// Package engine runs the task lifecycle against the store: snapshot
// reconciliation, user transitions, the SLA sweep and the read surface.
// Every operation is one transaction; events are published after commit.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kylemclaren/slowstock/internal/clock"
	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/events"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/logging"
	"github.com/kylemclaren/slowstock/internal/telemetry"
)

// ErrInvalidInput marks malformed arguments that are not lifecycle errors.
var ErrInvalidInput = errors.New("invalid input")

// EvidenceStore keeps evidence bytes outside the database.
type EvidenceStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Remove(ctx context.Context, url string) error
}

// Engine is safe for concurrent use; all state lives in the database.
type Engine struct {
	db       *db.DB
	clock    clock.Clock
	resolver inventory.Resolver
	evidence EvidenceStore
	sink     events.Sink
	log      logrus.FieldLogger
	inst     *telemetry.Instruments
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithResolver(r inventory.Resolver) Option { return func(e *Engine) { e.resolver = r } }

func WithEvidence(s EvidenceStore) Option { return func(e *Engine) { e.evidence = s } }

func WithSink(s events.Sink) Option { return func(e *Engine) { e.sink = s } }

func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.log = l } }

// New creates an engine over database.
func New(database *db.DB, opts ...Option) *Engine {
	e := &Engine{
		db:       database,
		clock:    clock.Real{},
		resolver: inventory.DefaultResolver(),
		sink:     events.Discard{},
		log:      logging.GetLogger(),
		inst:     telemetry.NewInstruments(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DB returns the underlying database.
func (e *Engine) DB() *db.DB { return e.db }

// now truncates to microseconds, the finest precision every dialect keeps.
func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) publish(evs []events.Event) {
	for _, ev := range evs {
		e.sink.Publish(ev)
	}
}

func chargeOf(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}

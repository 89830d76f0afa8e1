// Package engine owns the key event logs of many identifiers. It is the only
// place events are admitted: it decodes submitted events, validates them
// against the current key state, persists them and feeds the witness,
// delegation and group side components.
//
// Logs of different identifiers are processed in parallel; admissions for
// one identifier are serialized.
package engine

import (
	"context"
	"fmt"
	"sync"

	log "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"xdao.co/kel/delegation"
	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/keys"
	"xdao.co/kel/multisig"
	"xdao.co/kel/storage"
	"xdao.co/kel/witness"
)

var logger = log.Logger("kel/engine")

const tracerName = "xdao.co/kel/engine"

// DefaultMaxEscrow bounds the out-of-order events held per identifier.
const DefaultMaxEscrow = 64

// DefaultMaxEscrowIdentifiers bounds how many identifiers may hold
// out-of-order events at once.
const DefaultMaxEscrowIdentifiers = 1024

// AdmitHook observes every event committed to a log.
type AdmitHook func(ctx context.Context, m *event.Message, st kel.KeyState)

// Option configures an Engine.
type Option func(*Engine)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithWitnessSigner makes the engine receipt events naming signer's key as
// a witness.
func WithWitnessSigner(s keys.Signer) Option {
	return func(e *Engine) { e.witnessSigner = s }
}

// WithMaxEscrow overrides DefaultMaxEscrow.
func WithMaxEscrow(n int) Option { return func(e *Engine) { e.maxEscrow = n } }

// WithMaxEscrowIdentifiers overrides DefaultMaxEscrowIdentifiers.
func WithMaxEscrowIdentifiers(n int) Option {
	return func(e *Engine) { e.maxEscrowPrefixes = n }
}

// WithAdmitHook registers fn to run after each commit, outside the
// identifier lock.
func WithAdmitHook(fn AdmitHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, fn) }
}

// WithMaxBufferedReceipts bounds receipts held for unknown events.
func WithMaxBufferedReceipts(n int) Option {
	return func(e *Engine) { e.aggOpts = append(e.aggOpts, witness.WithMaxBuffered(n)) }
}

// Engine is safe for concurrent use.
type Engine struct {
	store  storage.Store
	tracer trace.Tracer

	receipts    *witness.Aggregator
	delegations *delegation.Resolver
	groups      *multisig.Coordinator

	witnessSigner     keys.Signer
	maxEscrow         int
	maxEscrowPrefixes int
	hooks             []AdmitHook
	aggOpts           []witness.Option

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	statesMu sync.RWMutex
	states   map[string]kel.KeyState

	escrowMu sync.Mutex
	escrow   map[string]map[string]escrowed

	sealsMu sync.Mutex
	seals   map[string]*event.Seal
}

// New opens an engine over store and rebuilds every key state by replaying
// the stored logs. Stored receipts are restored into the witness tallies and
// delegated events awaiting approval are held again.
func New(ctx context.Context, store storage.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: nil store")
	}
	e := &Engine{
		store:             store,
		tracer:            otel.Tracer(tracerName),
		delegations:       delegation.NewResolver(),
		groups:            multisig.NewCoordinator(),
		maxEscrow:         DefaultMaxEscrow,
		maxEscrowPrefixes: DefaultMaxEscrowIdentifiers,
		locks:             map[string]*sync.Mutex{},
		states:            map[string]kel.KeyState{},
		escrow:            map[string]map[string]escrowed{},
		seals:             map[string]*event.Seal{},
	}
	for _, o := range opts {
		o(e)
	}
	aggOpts := append([]witness.Option{
		witness.WithSink(func(ctx context.Context, r event.Receipt) error {
			_, err := e.store.PutReceipt(ctx, r)
			return err
		}),
		witness.WithConfirmHook(func(t witness.Tally) {
			logger.Infof("%s sn %d witnessed by %d of %d", t.Prefix, t.Sn, t.Receipts, len(t.Witnesses))
		}),
	}, e.aggOpts...)
	e.receipts = witness.New(aggOpts...)

	if err := e.load(ctx); err != nil {
		return nil, err
	}
	if err := e.restorePending(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	prefixes, err := e.store.Prefixes(ctx)
	if err != nil {
		return fmt.Errorf("engine: list identifiers: %w", err)
	}
	for _, prefix := range prefixes {
		recs, err := e.store.Events(ctx, prefix)
		if err != nil {
			return fmt.Errorf("engine: load %s: %w", prefix, err)
		}
		var st kel.KeyState
		for _, rec := range recs {
			m, err := event.Decode(rec.Raw)
			if err != nil {
				return fmt.Errorf("engine: decode %s sn %d: %w", prefix, rec.Sn, err)
			}
			st, err = kel.Apply(st, m, rec.Signatures)
			if err != nil {
				return fmt.Errorf("engine: replay %s sn %d: %w", prefix, rec.Sn, err)
			}
			if _, err := e.receipts.Track(ctx, rec.Digest, prefix, rec.Sn, rec.Raw, st.Witnesses, st.Toad); err != nil {
				return err
			}
			stored, err := e.store.Receipts(ctx, rec.Digest)
			if err != nil {
				return fmt.Errorf("engine: receipts of %s: %w", rec.Digest, err)
			}
			for _, r := range stored {
				if err := e.receipts.Restore(r); err != nil {
					logger.Warnf("ignoring stored receipt for %s from %s: %v", r.Digest, r.Witness, err)
				}
			}
		}
		e.states[prefix] = st
	}
	logger.Infof("loaded %d identifiers", len(prefixes))
	return nil
}

// Close closes the underlying store.
func (e *Engine) Close() error { return e.store.Close() }

func (e *Engine) lock(prefix string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[prefix]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[prefix] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) state(prefix string) (kel.KeyState, bool) {
	e.statesMu.RLock()
	defer e.statesMu.RUnlock()
	st, ok := e.states[prefix]
	return st.Clone(), ok
}

func (e *Engine) setState(st kel.KeyState) {
	e.statesMu.Lock()
	e.states[st.Prefix] = st
	e.statesMu.Unlock()
}

// message returns the decoded event of prefix at sn.
func (e *Engine) message(ctx context.Context, prefix string, sn uint64) (*event.Message, storage.Record, error) {
	recs, err := e.store.Events(ctx, prefix)
	if err != nil {
		return nil, storage.Record{}, err
	}
	if sn >= uint64(len(recs)) {
		return nil, storage.Record{}, fmt.Errorf("%s sn %d: %w", prefix, sn, storage.ErrNotFound)
	}
	m, err := event.Decode(recs[sn].Raw)
	if err != nil {
		return nil, storage.Record{}, err
	}
	return m, recs[sn], nil
}

func (e *Engine) lookup(ctx context.Context, prefix string, sn uint64) (*event.Message, error) {
	m, _, err := e.message(ctx, prefix, sn)
	return m, err
}

// stateAt replays prefix up to but excluding sn.
func (e *Engine) stateAt(ctx context.Context, prefix string, sn uint64) (kel.KeyState, error) {
	recs, err := e.store.Events(ctx, prefix)
	if err != nil {
		return kel.KeyState{}, err
	}
	if sn > uint64(len(recs)) {
		sn = uint64(len(recs))
	}
	entries := make([]kel.Entry, 0, sn)
	for _, rec := range recs[:sn] {
		m, err := event.Decode(rec.Raw)
		if err != nil {
			return kel.KeyState{}, err
		}
		entries = append(entries, kel.Entry{Message: m, Signatures: rec.Signatures})
	}
	return kel.Replay(entries)
}

func internal(msg string, err error) error {
	return event.WrapError(event.KindInternal, event.RuleInternal, msg, err)
}

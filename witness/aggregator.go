// Package witness tallies witness receipts per event and reports when an
// event has gathered enough of them to be accountable.
package witness

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/ipfs/go-log/v2"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
)

var logger = log.Logger("kel/witness")

// DefaultMaxBuffered bounds how many distinct unknown digests may hold
// buffered receipts.
const DefaultMaxBuffered = 1024

// maxHeldPerWitness bounds the distinct signatures held for one witness of
// an unknown digest.
const maxHeldPerWitness = 8

// Tally summarizes the receipts of one event.
type Tally struct {
	Digest    string   `json:"d"`
	Prefix    string   `json:"i"`
	Sn        uint64   `json:"s"`
	Toad      int      `json:"bt"`
	Witnesses []string `json:"b"`
	Receipts  int      `json:"receipts"`
	Confirmed bool     `json:"confirmed"`
}

// Result reports the effect of one receipt.
type Result struct {
	// Count is the number of distinct valid receipts for the event.
	Count int
	// Added is false for a repeat of a receipt already counted.
	Added bool
	// Buffered means the event is not admitted yet; the receipt is held and
	// checked once it is.
	Buffered  bool
	Confirmed bool
}

// Sink persists an accepted receipt before it is counted.
type Sink func(ctx context.Context, r event.Receipt) error

type entry struct {
	prefix    string
	sn        uint64
	raw       []byte
	toad      int
	witnesses []string
	members   map[string]bool
	receipts  map[string][]byte
}

func (e *entry) tally(digest string) Tally {
	return Tally{
		Digest:    digest,
		Prefix:    e.prefix,
		Sn:        e.sn,
		Toad:      e.toad,
		Witnesses: append([]string(nil), e.witnesses...),
		Receipts:  len(e.receipts),
		Confirmed: len(e.receipts) >= e.toad,
	}
}

// Aggregator is safe for concurrent use. Receipt ingestion is commutative:
// the final tally does not depend on arrival order.
type Aggregator struct {
	mu     sync.Mutex
	events map[string]*entry
	// digest -> witness -> distinct signatures, in arrival order
	buffered    map[string]map[string][]event.Receipt
	maxBuffered int
	sink        Sink
	onConfirm   func(Tally)
}

type Option func(*Aggregator)

// WithSink sets the persistence hook for accepted receipts.
func WithSink(s Sink) Option { return func(a *Aggregator) { a.sink = s } }

// WithConfirmHook is called once per event when it reaches its threshold.
func WithConfirmHook(fn func(Tally)) Option { return func(a *Aggregator) { a.onConfirm = fn } }

// WithMaxBuffered overrides DefaultMaxBuffered.
func WithMaxBuffered(n int) Option { return func(a *Aggregator) { a.maxBuffered = n } }

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		events:      map[string]*entry{},
		buffered:    map[string]map[string][]event.Receipt{},
		maxBuffered: DefaultMaxBuffered,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Track registers an admitted event with the witness set and threshold in
// force for it. Receipts buffered for the digest are then checked; the
// first valid one per witness is counted and the rest are dropped.
func (a *Aggregator) Track(ctx context.Context, digest, prefix string, sn uint64, raw []byte, witnesses []string, toad int) (Tally, error) {
	a.mu.Lock()
	e, ok := a.events[digest]
	if !ok {
		e = &entry{
			prefix:    prefix,
			sn:        sn,
			raw:       append([]byte(nil), raw...),
			toad:      toad,
			witnesses: append([]string(nil), witnesses...),
			members:   make(map[string]bool, len(witnesses)),
			receipts:  map[string][]byte{},
		}
		for _, w := range witnesses {
			e.members[w] = true
		}
		a.events[digest] = e
	}
	held := a.buffered[digest]
	delete(a.buffered, digest)
	a.mu.Unlock()

	witnessesHeld := make([]string, 0, len(held))
	for w := range held {
		witnessesHeld = append(witnessesHeld, w)
	}
	sort.Strings(witnessesHeld)
	for _, w := range witnessesHeld {
		for _, r := range held[w] {
			_, err := a.Add(ctx, r)
			if err == nil {
				break
			}
			logger.Warnf("dropping buffered receipt for %s from %s: %v", digest, w, err)
		}
	}

	t, _ := a.Tally(digest)
	return t, nil
}

// Restore counts receipts loaded from storage without persisting them again.
// The event must already be tracked.
func (a *Aggregator) Restore(r event.Receipt) error {
	_, err := a.add(context.Background(), r, false)
	return err
}

// Add verifies and counts one receipt. Receipts for unknown digests are
// buffered. A repeated receipt leaves the count unchanged.
func (a *Aggregator) Add(ctx context.Context, r event.Receipt) (Result, error) {
	return a.add(ctx, r, true)
}

func (a *Aggregator) add(ctx context.Context, r event.Receipt, persist bool) (Result, error) {
	if r.Digest == "" || r.Witness == "" || len(r.Signature) == 0 {
		return Result{}, event.NewError(event.KindWitness, event.RuleReceiptInvalid, "incomplete receipt")
	}

	a.mu.Lock()
	e, ok := a.events[r.Digest]
	if !ok {
		defer a.mu.Unlock()
		held := a.buffered[r.Digest]
		if held == nil {
			if len(a.buffered) >= a.maxBuffered {
				return Result{}, event.NewError(event.KindWitness, event.RuleUnknown, "receipt buffer full")
			}
			held = map[string][]event.Receipt{}
			a.buffered[r.Digest] = held
		}
		sigs := held[r.Witness]
		for _, h := range sigs {
			if bytes.Equal(h.Signature, r.Signature) {
				return Result{Buffered: true}, nil
			}
		}
		if len(sigs) >= maxHeldPerWitness {
			return Result{}, event.NewError(event.KindWitness, event.RuleUnknown,
				fmt.Sprintf("too many unverified receipts from %s for %s", r.Witness, r.Digest))
		}
		r.Signature = append([]byte(nil), r.Signature...)
		held[r.Witness] = append(sigs, r)
		logger.Debugf("buffered receipt for unknown event %s from %s", r.Digest, r.Witness)
		return Result{Buffered: true}, nil
	}

	if !e.members[r.Witness] {
		a.mu.Unlock()
		return Result{}, event.NewError(event.KindWitness, event.RuleNotWitness,
			fmt.Sprintf("%s is not a witness of event %s", r.Witness, r.Digest))
	}
	if _, dup := e.receipts[r.Witness]; dup {
		res := Result{Count: len(e.receipts), Confirmed: len(e.receipts) >= e.toad}
		a.mu.Unlock()
		return res, nil
	}
	if err := keys.Verify(r.Witness, e.raw, r.Signature); err != nil {
		a.mu.Unlock()
		return Result{}, event.WrapError(event.KindWitness, event.RuleReceiptInvalid, "receipt signature", err)
	}
	if persist && a.sink != nil {
		if err := a.sink(ctx, r); err != nil {
			a.mu.Unlock()
			return Result{}, event.WrapError(event.KindInternal, event.RuleInternal, "persist receipt", err)
		}
	}
	wasConfirmed := len(e.receipts) >= e.toad
	e.receipts[r.Witness] = append([]byte(nil), r.Signature...)
	count := len(e.receipts)
	res := Result{Count: count, Added: true, Confirmed: count >= e.toad}
	t := e.tally(r.Digest)
	a.mu.Unlock()

	if res.Confirmed && !wasConfirmed && a.onConfirm != nil {
		a.onConfirm(t)
	}
	return res, nil
}

// IsConfirmed reports whether the event has at least toad distinct valid
// receipts. Unknown events are not confirmed.
func (a *Aggregator) IsConfirmed(digest string) bool {
	t, ok := a.Tally(digest)
	return ok && t.Confirmed
}

// Tally returns the current tally for digest.
func (a *Aggregator) Tally(digest string) (Tally, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.events[digest]
	if !ok {
		return Tally{}, false
	}
	return e.tally(digest), true
}

// Receipts returns the counted receipts for digest ordered by witness.
func (a *Aggregator) Receipts(digest string) []event.Receipt {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.events[digest]
	if !ok {
		return nil
	}
	out := make([]event.Receipt, 0, len(e.receipts))
	for w, sig := range e.receipts {
		out = append(out, event.Receipt{Digest: digest, Witness: w, Signature: append([]byte(nil), sig...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Witness < out[j].Witness })
	return out
}

// Buffered returns the number of unknown digests holding receipts.
func (a *Aggregator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffered)
}

// Run consumes receipts from in until it is closed or ctx is done.
// Rejected receipts are logged and skipped.
func (a *Aggregator) Run(ctx context.Context, in <-chan event.Receipt) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := a.Add(ctx, r); err != nil {
				logger.Warnf("rejected receipt for %s from %s: %v", r.Digest, r.Witness, err)
			}
		}
	}
}

package witness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
)

func mustWitness(t *testing.T, b byte) keys.Signer {
	t.Helper()
	seed := make([]byte, keys.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	s, err := keys.NewEd25519Signer(seed)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	return s
}

func receipt(t *testing.T, w keys.Signer, digest string, raw []byte) event.Receipt {
	t.Helper()
	sig, err := w.Sign(raw)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return event.Receipt{Digest: digest, Witness: w.PublicKey(), Signature: sig}
}

var raw = []byte(`{"t":"rot"}`)

func TestReceiptCountMonotoneAndSaturating(t *testing.T) {
	ctx := context.Background()
	w1, w2, w3 := mustWitness(t, 1), mustWitness(t, 2), mustWitness(t, 3)
	a := New()
	if _, err := a.Track(ctx, "d", "aid", 1, raw, []string{w1.PublicKey(), w2.PublicKey(), w3.PublicKey()}, 2); err != nil {
		t.Fatalf("Track: %v", err)
	}

	res, err := a.Add(ctx, receipt(t, w1, "d", raw))
	if err != nil || res.Count != 1 || res.Confirmed {
		t.Fatalf("first receipt: %+v %v", res, err)
	}
	res, err = a.Add(ctx, receipt(t, w1, "d", raw))
	if err != nil || res.Count != 1 || res.Added {
		t.Fatalf("duplicate receipt must not increase count: %+v %v", res, err)
	}
	if a.IsConfirmed("d") {
		t.Fatalf("confirmed with one receipt")
	}
	res, err = a.Add(ctx, receipt(t, w2, "d", raw))
	if err != nil || res.Count != 2 || !res.Confirmed {
		t.Fatalf("second receipt: %+v %v", res, err)
	}
	res, err = a.Add(ctx, receipt(t, w3, "d", raw))
	if err != nil || res.Count != 3 || !res.Confirmed {
		t.Fatalf("receipts after confirmation are still recorded: %+v %v", res, err)
	}
	if got := len(a.Receipts("d")); got != 3 {
		t.Fatalf("Receipts = %d", got)
	}
}

func TestRejectsNonWitnessAndBadSignature(t *testing.T) {
	ctx := context.Background()
	w1, outsider := mustWitness(t, 1), mustWitness(t, 9)
	a := New()
	_, _ = a.Track(ctx, "d", "aid", 0, raw, []string{w1.PublicKey()}, 1)

	_, err := a.Add(ctx, receipt(t, outsider, "d", raw))
	if event.RuleID(err) != event.RuleNotWitness {
		t.Fatalf("got %v, want not-a-witness", err)
	}
	bad := receipt(t, w1, "d", []byte("other bytes"))
	_, err = a.Add(ctx, bad)
	if event.RuleID(err) != event.RuleReceiptInvalid {
		t.Fatalf("got %v, want invalid receipt", err)
	}
	if a.IsConfirmed("d") {
		t.Fatalf("confirmed without valid receipts")
	}
}

func TestBufferedReceiptsReplayedOnTrack(t *testing.T) {
	ctx := context.Background()
	w1, w2 := mustWitness(t, 1), mustWitness(t, 2)
	a := New()
	res, err := a.Add(ctx, receipt(t, w1, "d", raw))
	if err != nil || !res.Buffered {
		t.Fatalf("expected buffered: %+v %v", res, err)
	}
	// An invalid early receipt is dropped at Track time.
	_, _ = a.Add(ctx, event.Receipt{Digest: "d", Witness: w2.PublicKey(), Signature: []byte{1}})
	if a.Buffered() != 1 {
		t.Fatalf("Buffered = %d", a.Buffered())
	}

	tally, err := a.Track(ctx, "d", "aid", 0, raw, []string{w1.PublicKey(), w2.PublicKey()}, 1)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if tally.Receipts != 1 || !tally.Confirmed {
		t.Fatalf("tally after replay: %+v", tally)
	}
	if a.Buffered() != 0 {
		t.Fatalf("buffer not drained")
	}
}

func TestForgedEarlyReceiptDoesNotShadowGenuine(t *testing.T) {
	ctx := context.Background()
	w1 := mustWitness(t, 1)
	a := New()
	forged := event.Receipt{Digest: "d", Witness: w1.PublicKey(), Signature: []byte("not a signature")}
	if res, err := a.Add(ctx, forged); err != nil || !res.Buffered {
		t.Fatalf("forged receipt: %+v %v", res, err)
	}
	if res, err := a.Add(ctx, receipt(t, w1, "d", raw)); err != nil || !res.Buffered {
		t.Fatalf("genuine receipt: %+v %v", res, err)
	}

	tally, err := a.Track(ctx, "d", "aid", 0, raw, []string{w1.PublicKey()}, 1)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if tally.Receipts != 1 || !tally.Confirmed {
		t.Fatalf("genuine receipt not counted: %+v", tally)
	}
}

func TestBufferedReceiptsBoundedPerWitness(t *testing.T) {
	ctx := context.Background()
	w1 := mustWitness(t, 1)
	a := New()
	for i := 0; i < maxHeldPerWitness; i++ {
		r := event.Receipt{Digest: "d", Witness: w1.PublicKey(), Signature: []byte{byte(i + 1)}}
		if _, err := a.Add(ctx, r); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	// A repeat of a held signature is accepted without growing the buffer.
	if _, err := a.Add(ctx, event.Receipt{Digest: "d", Witness: w1.PublicKey(), Signature: []byte{1}}); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	_, err := a.Add(ctx, event.Receipt{Digest: "d", Witness: w1.PublicKey(), Signature: []byte{0xff}})
	if !event.IsKind(err, event.KindWitness) {
		t.Fatalf("expected witness error past the bound, got %v", err)
	}
}

func TestIngestionCommutative(t *testing.T) {
	ctx := context.Background()
	ws := []keys.Signer{mustWitness(t, 1), mustWitness(t, 2), mustWitness(t, 3)}
	members := []string{ws[0].PublicKey(), ws[1].PublicKey(), ws[2].PublicKey()}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0, 1}}
	var first Tally
	for i, order := range orders {
		a := New()
		// Half the receipts arrive before the event is tracked.
		for _, j := range order[:1] {
			_, _ = a.Add(ctx, receipt(t, ws[j], "d", raw))
		}
		_, _ = a.Track(ctx, "d", "aid", 0, raw, members, 2)
		for _, j := range order[1:] {
			_, _ = a.Add(ctx, receipt(t, ws[j], "d", raw))
		}
		got, _ := a.Tally("d")
		if i == 0 {
			first = got
			continue
		}
		if got.Receipts != first.Receipts || got.Confirmed != first.Confirmed {
			t.Fatalf("order %v: %+v vs %+v", order, got, first)
		}
	}
}

func TestConfirmHookFiresOnce(t *testing.T) {
	ctx := context.Background()
	w1, w2 := mustWitness(t, 1), mustWitness(t, 2)
	var mu sync.Mutex
	calls := 0
	a := New(WithConfirmHook(func(Tally) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	_, _ = a.Track(ctx, "d", "aid", 0, raw, []string{w1.PublicKey(), w2.PublicKey()}, 1)
	_, _ = a.Add(ctx, receipt(t, w1, "d", raw))
	_, _ = a.Add(ctx, receipt(t, w2, "d", raw))
	if calls != 1 {
		t.Fatalf("hook called %d times", calls)
	}
}

func TestSinkFailureLeavesCountUnchanged(t *testing.T) {
	ctx := context.Background()
	w1 := mustWitness(t, 1)
	a := New(WithSink(func(context.Context, event.Receipt) error { return errors.New("disk full") }))
	_, _ = a.Track(ctx, "d", "aid", 0, raw, []string{w1.PublicKey()}, 1)
	if _, err := a.Add(ctx, receipt(t, w1, "d", raw)); err == nil {
		t.Fatalf("expected sink error")
	}
	if tally, _ := a.Tally("d"); tally.Receipts != 0 {
		t.Fatalf("count = %d", tally.Receipts)
	}
}

func TestRunConsumesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w1 := mustWitness(t, 1)
	a := New()
	_, _ = a.Track(ctx, "d", "aid", 0, raw, []string{w1.PublicKey()}, 1)

	in := make(chan event.Receipt)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, in) }()
	in <- receipt(t, w1, "d", raw)
	close(in)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	if !a.IsConfirmed("d") {
		t.Fatalf("receipt from channel not counted")
	}
}

func TestZeroToadConfirmedOnTrack(t *testing.T) {
	a := New()
	tally, _ := a.Track(context.Background(), "d", "aid", 0, raw, nil, 0)
	if !tally.Confirmed {
		t.Fatalf("event without witnesses should be confirmed")
	}
}

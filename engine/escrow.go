package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"xdao.co/kel/event"
)

type escrowed struct {
	msg      *event.Message
	sigs     []event.Signature
	seal     *event.Seal
	received time.Time
}

// hold escrows an event that is ahead of its log.
func (e *Engine) hold(res AdmissionResult, m *event.Message, sigs []event.Signature, seal *event.Seal) (AdmissionResult, followups, error) {
	prefix := m.Event.Prefix
	e.escrowMu.Lock()
	defer e.escrowMu.Unlock()
	held := e.escrow[prefix]
	if held == nil {
		if len(e.escrow) >= e.maxEscrowPrefixes {
			return res, followups{}, event.NewError(event.KindOutOfOrder, event.RuleOutOfOrder,
				"escrow holds too many identifiers")
		}
		held = map[string]escrowed{}
		e.escrow[prefix] = held
	}
	if _, ok := held[m.Event.Digest]; !ok {
		if len(held) >= e.maxEscrow {
			return res, followups{}, event.NewError(event.KindOutOfOrder, event.RuleOutOfOrder,
				fmt.Sprintf("escrow for %s is full", prefix))
		}
		held[m.Event.Digest] = escrowed{msg: m, sigs: sigs, seal: seal, received: time.Now().UTC()}
		logger.Debugf("escrowed %s sn %d", prefix, m.SeqNo)
	}
	res.Status = Escrowed
	return res, followups{}, nil
}

// Escrowed returns the number of events held out of order for prefix.
func (e *Engine) Escrowed(prefix string) int {
	e.escrowMu.Lock()
	defer e.escrowMu.Unlock()
	return len(e.escrow[prefix])
}

// next removes and returns the escrowed events of prefix at sn, oldest first.
func (e *Engine) next(prefix string, sn uint64) []escrowed {
	e.escrowMu.Lock()
	defer e.escrowMu.Unlock()
	var out []escrowed
	for d, h := range e.escrow[prefix] {
		if h.msg.SeqNo == sn {
			out = append(out, h)
			delete(e.escrow[prefix], d)
		}
	}
	if len(e.escrow[prefix]) == 0 {
		delete(e.escrow, prefix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].received.Before(out[j].received) })
	return out
}

// drain admits escrowed events of prefix for as long as the log advances.
// It must be called without the identifier lock.
func (e *Engine) drain(ctx context.Context, prefix string) followups {
	var f followups
	for {
		st, ok := e.state(prefix)
		if !ok {
			return f
		}
		candidates := e.next(prefix, st.Sn+1)
		if len(candidates) == 0 {
			return f
		}
		advanced := false
		for _, c := range candidates {
			res, more, err := e.admit(ctx, c.msg, c.sigs, c.seal)
			if err != nil {
				logger.Warnf("dropping escrowed %s sn %d: %v", prefix, c.msg.SeqNo, err)
				continue
			}
			f.merge(more)
			if res.Status == Accepted || res.Status == PendingWitnessConfirmation {
				advanced = true
			}
		}
		if !advanced {
			return f
		}
	}
}

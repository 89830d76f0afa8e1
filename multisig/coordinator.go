package multisig

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/ipfs/go-log/v2"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/threshold"
)

var logger = log.Logger("kel/multisig")

// Partial is one participant's signature over a group event.
type Partial struct {
	Participant string
	Signature   []byte
}

// MergeResult reports the collected signatures of a group event.
type MergeResult struct {
	Digest string
	// Complete is true exactly when the collected signatures satisfy the
	// group threshold.
	Complete bool
	// Signatures are ordered by index.
	Signatures []event.Signature
	Missing    []string
}

type proposal struct {
	group   Group
	msg     *event.Message
	signers []string
	th      threshold.Threshold
	sigs    map[int][]byte
}

func (p *proposal) result() MergeResult {
	res := MergeResult{Digest: p.msg.Event.Digest}
	idx := make([]int, 0, len(p.sigs))
	for i := range p.sigs {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		res.Signatures = append(res.Signatures, event.Signature{Index: i, Sig: append([]byte(nil), p.sigs[i]...)})
	}
	for i, aid := range p.group.Participants {
		if _, ok := p.sigs[i]; !ok {
			res.Missing = append(res.Missing, aid)
		}
	}
	res.Complete = p.th.Satisfied(idx)
	return res
}

// Coordinator collects partial signatures for one pending event per group.
// It is safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*proposal
}

func NewCoordinator() *Coordinator {
	return &Coordinator{pending: map[string]*proposal{}}
}

// Open starts collecting signatures for msg. signers are the keys the
// event is verified against (the revealed keys for establishment events)
// and th the threshold over them. Reopening the same event keeps the
// collected signatures; opening a different event replaces the pending one.
func (c *Coordinator) Open(g Group, msg *event.Message, signers []string, th threshold.Threshold) (MergeResult, error) {
	if err := g.validate(); err != nil {
		return MergeResult{}, err
	}
	if len(signers) != len(g.Participants) {
		return MergeResult{}, event.NewError(event.KindStructural, event.RuleKeySet,
			fmt.Sprintf("group has %d participants but %d keys", len(g.Participants), len(signers)))
	}
	if err := th.Validate(len(signers)); err != nil {
		return MergeResult{}, event.WrapError(event.KindStructural, event.RuleThresholdShape, "group threshold", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[g.Prefix]; ok && cur.msg.Event.Digest == msg.Event.Digest {
		return cur.result(), nil
	}
	p := &proposal{
		group:   g,
		msg:     msg,
		signers: append([]string(nil), signers...),
		th:      th,
		sigs:    map[int][]byte{},
	}
	c.pending[g.Prefix] = p
	logger.Infof("collecting signatures for group %s %s sn %d", g.Prefix, msg.Event.Type, msg.SeqNo)
	return p.result(), nil
}

// Pending returns the event awaiting signatures for group.
func (c *Coordinator) Pending(group string) (*event.Message, Group, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[group]
	if !ok {
		return nil, Group{}, false
	}
	return p.msg, p.group, true
}

// Merge adds partials to the pending event of group. Merging is commutative
// and idempotent. A partial from a non-participant or whose signature does
// not verify is rejected without affecting the others.
func (c *Coordinator) Merge(group string, partials ...Partial) (MergeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[group]
	if !ok {
		return MergeResult{}, event.NewError(event.KindNotFound, event.RuleUnknown,
			fmt.Sprintf("no group event of %s awaits signatures", group))
	}
	var firstErr error
	for _, part := range partials {
		i, ok := p.group.Index(part.Participant)
		if !ok {
			if firstErr == nil {
				firstErr = event.NewError(event.KindStructural, event.RuleSignature,
					fmt.Sprintf("%s is not a participant of %s", part.Participant, group))
			}
			continue
		}
		if _, done := p.sigs[i]; done {
			continue
		}
		if err := keys.Verify(p.signers[i], p.msg.Raw, part.Signature); err != nil {
			if firstErr == nil {
				firstErr = event.WrapError(event.KindStructural, event.RuleSignature,
					fmt.Sprintf("signature of %s", part.Participant), err)
			}
			continue
		}
		p.sigs[i] = append([]byte(nil), part.Signature...)
		logger.Debugf("group %s: signature %d of %d", group, len(p.sigs), len(p.group.Participants))
	}
	return p.result(), firstErr
}

// Close drops the pending event of group if its digest matches.
func (c *Coordinator) Close(group, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[group]; ok && p.msg.Event.Digest == digest {
		delete(c.pending, group)
	}
}

package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/ipfs/go-log/v2"

	"xdao.co/kel/event"
)

var logger = log.Logger("kel/registry")

// AnchorFinder locates the event in issuer's key event log that anchors
// want and returns its seal.
type AnchorFinder interface {
	Anchored(ctx context.Context, issuer string, want event.Seal) (event.Seal, bool)
}

// Outcome of processing one registry event.
type Outcome string

const (
	Accepted Outcome = "Accepted"
	// AnchorPending: valid, waiting for the issuer to anchor it.
	AnchorPending Outcome = "AnchorPending"
	// Escrowed: depends on a registry event not seen yet.
	Escrowed  Outcome = "Escrowed"
	Duplicate Outcome = "Duplicate"
)

// Registry is an incepted credential registry.
type Registry struct {
	Prefix string     `json:"i"`
	Issuer string     `json:"ii"`
	Anchor event.Seal `json:"a"`
}

// CredentialState is the lifecycle position of a credential.
type CredentialState string

const (
	Issued  CredentialState = "issued"
	Revoked CredentialState = "revoked"
)

// CredentialStatus is the latest registry event of a credential.
type CredentialStatus struct {
	Registry   string          `json:"ri"`
	Credential string          `json:"i"`
	State      CredentialState `json:"state"`
	Sn         uint64          `json:"s"`
	Digest     string          `json:"d"`
	Date       string          `json:"dt"`
	Anchor     event.Seal      `json:"a"`
}

type credential struct {
	events  []*Message
	anchors []event.Seal
}

// Processor applies registry events in order. It is safe for concurrent
// use.
type Processor struct {
	anchors AnchorFinder

	mu         sync.Mutex
	registries map[string]*Registry
	creds      map[string]map[string]*credential
	anchorless map[string]*Message
	outOfOrder map[string]*Message
}

func NewProcessor(anchors AnchorFinder) *Processor {
	return &Processor{
		anchors:    anchors,
		registries: map[string]*Registry{},
		creds:      map[string]map[string]*credential{},
		anchorless: map[string]*Message{},
		outOfOrder: map[string]*Message{},
	}
}

// Process decodes and applies one registry event.
func (p *Processor) Process(ctx context.Context, raw []byte) (Outcome, error) {
	m, err := Decode(raw)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.process(ctx, m)
}

func (p *Processor) process(ctx context.Context, m *Message) (Outcome, error) {
	e := m.Event
	if e.Type == Inception {
		// The registry identifier is the inception digest, so a known
		// identifier means this exact event.
		if _, ok := p.registries[e.Prefix]; ok {
			return Duplicate, nil
		}
		anchor, ok := p.anchors.Anchored(ctx, e.Issuer, m.Seal())
		if !ok {
			p.anchorless[e.Digest] = m
			logger.Debugf("registry %s waits for anchor in %s", e.Prefix, e.Issuer)
			return AnchorPending, nil
		}
		p.registries[e.Prefix] = &Registry{Prefix: e.Prefix, Issuer: e.Issuer, Anchor: anchor}
		p.creds[e.Prefix] = map[string]*credential{}
		logger.Infof("registry %s incepted by %s", e.Prefix, e.Issuer)
		return Accepted, nil
	}

	reg, ok := p.registries[e.Registry]
	if !ok {
		p.outOfOrder[e.Digest] = m
		return Escrowed, nil
	}
	cred := p.creds[reg.Prefix][e.Prefix]
	var have uint64
	if cred != nil {
		have = uint64(len(cred.events))
	}
	switch {
	case m.SeqNo > have:
		p.outOfOrder[e.Digest] = m
		return Escrowed, nil
	case m.SeqNo < have:
		if cred.events[m.SeqNo].Event.Digest == e.Digest {
			return Duplicate, nil
		}
		return "", event.NewError(event.KindDuplicity, event.RuleRegistryConflict,
			fmt.Sprintf("credential %s already has a different event at sn %d", e.Prefix, m.SeqNo))
	}
	if e.Type == Revocation && cred.events[0].Event.Digest != e.Prior {
		return "", event.NewError(event.KindStructural, event.RulePriorDigest,
			fmt.Sprintf("revocation of %s does not follow its issuance", e.Prefix))
	}

	anchor, ok := p.anchors.Anchored(ctx, reg.Issuer, m.Seal())
	if !ok {
		p.anchorless[e.Digest] = m
		logger.Debugf("%s of %s waits for anchor in %s", e.Type, e.Prefix, reg.Issuer)
		return AnchorPending, nil
	}
	if cred == nil {
		cred = &credential{}
		p.creds[reg.Prefix][e.Prefix] = cred
	}
	cred.events = append(cred.events, m)
	cred.anchors = append(cred.anchors, anchor)
	logger.Infof("credential %s %s in %s", e.Prefix, stateOf(e.Type), reg.Prefix)
	return Accepted, nil
}

func stateOf(t Ilk) CredentialState {
	if t == Revocation {
		return Revoked
	}
	return Issued
}

// ProcessEscrow retries escrowed and anchor-pending events until no more
// can be applied. It returns the number applied.
func (p *Processor) ProcessEscrow(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	applied := 0
	for {
		pending := make([]*Message, 0, len(p.anchorless)+len(p.outOfOrder))
		for _, m := range p.anchorless {
			pending = append(pending, m)
		}
		for _, m := range p.outOfOrder {
			pending = append(pending, m)
		}
		// Inceptions first, then credentials in sequence order.
		sort.Slice(pending, func(i, j int) bool {
			a, b := pending[i], pending[j]
			if (a.Event.Type == Inception) != (b.Event.Type == Inception) {
				return a.Event.Type == Inception
			}
			if a.SeqNo != b.SeqNo {
				return a.SeqNo < b.SeqNo
			}
			return a.Event.Digest < b.Event.Digest
		})
		p.anchorless = map[string]*Message{}
		p.outOfOrder = map[string]*Message{}

		progress := 0
		for _, m := range pending {
			out, err := p.process(ctx, m)
			switch {
			case err != nil:
				logger.Warnf("dropping escrowed %s %s: %v", m.Event.Type, m.Event.Prefix, err)
			case out == Accepted:
				progress++
			}
		}
		applied += progress
		if progress == 0 {
			return applied
		}
	}
}

// Pending returns the number of events waiting in escrow.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.anchorless) + len(p.outOfOrder)
}

// Registry returns an incepted registry.
func (p *Processor) Registry(regk string) (Registry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.registries[regk]
	if !ok {
		return Registry{}, false
	}
	return *reg, true
}

// Status returns the state of credential vcid in registry regk.
func (p *Processor) Status(regk, vcid string) (CredentialStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.registries[regk]; !ok {
		return CredentialStatus{}, event.NewError(event.KindNotFound, event.RuleRegistryUnknown, "unknown registry "+regk)
	}
	cred := p.creds[regk][vcid]
	if cred == nil {
		return CredentialStatus{}, event.NewError(event.KindNotFound, event.RuleUnknown,
			fmt.Sprintf("credential %s not issued in %s", vcid, regk))
	}
	last := len(cred.events) - 1
	m := cred.events[last]
	return CredentialStatus{
		Registry:   regk,
		Credential: vcid,
		State:      stateOf(m.Event.Type),
		Sn:         m.SeqNo,
		Digest:     m.Event.Digest,
		Date:       m.Event.Date,
		Anchor:     cred.anchors[last],
	}, nil
}

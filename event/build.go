package event

import (
	"xdao.co/kel/cidutil"
	"xdao.co/kel/threshold"
)

// Options selects the encoding and digest algorithm for built events.
type Options struct {
	Kind Serialization
	Alg  cidutil.Alg
}

func (o Options) norm() Options {
	if o.Kind == "" {
		o.Kind = JSON
	}
	if o.Alg == 0 {
		o.Alg = cidutil.Default
	}
	return o
}

// InceptionParams describes a new identifier.
type InceptionParams struct {
	Keys      []string
	Threshold threshold.Threshold
	// Next is the pre-rotation commitment; empty creates a non-rotatable
	// identifier.
	Next          string
	NextThreshold threshold.Threshold
	Witnesses     []string
	// Toad < 0 selects Ample(len(Witnesses)).
	Toad      int
	Config    []string
	Delegator string
	Anchors   []Seal
}

// Incept builds a signed-over inception message.
func Incept(p InceptionParams, opts Options) (*Message, error) {
	opts = opts.norm()
	toad := p.Toad
	if toad < 0 {
		toad = Ample(len(p.Witnesses))
	}
	kt := p.Threshold
	e := &Event{
		Type:      Inception,
		Sn:        FormatSn(0),
		Kt:        &kt,
		Keys:      p.Keys,
		Next:      p.Next,
		Toad:      FormatSn(uint64(toad)),
		Witnesses: p.Witnesses,
		Config:    p.Config,
		Anchors:   p.Anchors,
		Delegator: p.Delegator,
	}
	if p.Next != "" {
		nt := p.NextThreshold
		e.Nt = &nt
	}
	return Saidify(e, opts.Kind, opts.Alg)
}

// RotationParams describes a rotation of an existing identifier.
type RotationParams struct {
	Prefix        string
	Sn            uint64
	Prior         string
	Keys          []string
	Threshold     threshold.Threshold
	Next          string
	NextThreshold threshold.Threshold
	Cuts          []string
	Adds          []string
	Toad          int
	Anchors       []Seal
}

// Rotate builds a rotation message.
func Rotate(p RotationParams, opts Options) (*Message, error) {
	opts = opts.norm()
	kt := p.Threshold
	e := &Event{
		Type:    Rotation,
		Prefix:  p.Prefix,
		Sn:      FormatSn(p.Sn),
		Prior:   p.Prior,
		Kt:      &kt,
		Keys:    p.Keys,
		Next:    p.Next,
		Toad:    FormatSn(uint64(p.Toad)),
		Cuts:    p.Cuts,
		Adds:    p.Adds,
		Anchors: p.Anchors,
	}
	if p.Next != "" {
		nt := p.NextThreshold
		e.Nt = &nt
	}
	return Saidify(e, opts.Kind, opts.Alg)
}

// InteractionParams describes an interaction event.
type InteractionParams struct {
	Prefix  string
	Sn      uint64
	Prior   string
	Anchors []Seal
}

// Interact builds an interaction message.
func Interact(p InteractionParams, opts Options) (*Message, error) {
	opts = opts.norm()
	e := &Event{
		Type:    Interaction,
		Prefix:  p.Prefix,
		Sn:      FormatSn(p.Sn),
		Prior:   p.Prior,
		Anchors: p.Anchors,
	}
	return Saidify(e, opts.Kind, opts.Alg)
}

package model

import (
	"fmt"

	"xdao.co/kel/engine"
	"xdao.co/kel/event"
	"xdao.co/kel/storage"
)

// ToProposal converts a boundary request into an engine proposal.
func ToProposal(req ProposeRequest) (engine.Proposal, error) {
	if len(req.Event) == 0 {
		return engine.Proposal{}, NewError(ErrInvalidRequest, "missing event")
	}
	kind, err := toSerialization(req.Kind)
	if err != nil {
		return engine.Proposal{}, err
	}
	return engine.Proposal{
		AID:           req.AID,
		Kind:          kind,
		Raw:           req.Event,
		Signatures:    req.Signatures,
		DelegatorSeal: req.DelegatorSeal,
	}, nil
}

func toSerialization(s string) (event.Serialization, error) {
	switch event.Serialization(s) {
	case "":
		return "", nil
	case event.JSON, event.CBOR:
		return event.Serialization(s), nil
	default:
		return "", NewError(ErrInvalidRequest, fmt.Sprintf("unknown serialization kind %q", s))
	}
}

func FromAdmission(r engine.AdmissionResult) AdmissionResponse {
	return AdmissionResponse{
		Status:   string(r.Status),
		Prefix:   r.Prefix,
		Sn:       r.Sn,
		Digest:   r.Digest,
		State:    r.State,
		Tally:    r.Tally,
		Approved: append([]event.Seal(nil), r.Approved...),
	}
}

func FromStateView(v engine.StateView) StateResponse {
	return StateResponse{State: v.State, Tally: v.Tally, Pending: v.Pending, Escrowed: v.Escrowed}
}

func FromReceipt(r engine.ReceiptResult) ReceiptResponse {
	return ReceiptResponse{
		Digest:    r.Digest,
		Count:     r.Count,
		Added:     r.Added,
		Buffered:  r.Buffered,
		Confirmed: r.Confirmed,
	}
}

func FromResolution(r engine.ResolutionResult) ResolutionResponse {
	return ResolutionResponse{
		Status: string(r.Status),
		Prefix: r.Prefix,
		Sn:     r.Sn,
		Digest: r.Digest,
		Reason: r.Reason,
		State:  r.State,
	}
}

func FromGroupMerge(r engine.GroupMergeResult) GroupMergeResponse {
	out := GroupMergeResponse{
		Digest:     r.Digest,
		Complete:   r.Complete,
		Signatures: append([]event.Signature(nil), r.Signatures...),
		Missing:    append([]string(nil), r.Missing...),
	}
	if r.Admission != nil {
		adm := FromAdmission(*r.Admission)
		out.Admission = &adm
	}
	return out
}

func FromRecord(rec storage.Record, receipts []event.Receipt) EventRecord {
	return EventRecord{
		Prefix:        rec.Prefix,
		Sn:            rec.Sn,
		Digest:        rec.Digest,
		Event:         rec.Raw,
		Signatures:    rec.Signatures,
		DelegatorSeal: rec.DelegatorSeal,
		Receipts:      receipts,
	}
}

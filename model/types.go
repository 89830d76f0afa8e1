package model

import (
	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/registry"
	"xdao.co/kel/witness"
)

// ProposeRequest submits one signed event. Event holds the serialized
// bytes; JSON encodes them as base64.
type ProposeRequest struct {
	AID           string            `json:"aid,omitempty"`
	Kind          string            `json:"kind,omitempty"`
	Event         []byte            `json:"event"`
	Signatures    []event.Signature `json:"signatures"`
	DelegatorSeal *event.Seal       `json:"delegatorSeal,omitempty"`
}

type AdmissionResponse struct {
	Status   string        `json:"status"`
	Prefix   string        `json:"prefix"`
	Sn       uint64        `json:"sn"`
	Digest   string        `json:"digest"`
	State    kel.KeyState  `json:"state"`
	Tally    witness.Tally `json:"tally"`
	Approved []event.Seal  `json:"approved,omitempty"`
}

type StateRequest struct {
	AID string `json:"aid"`
}

type StateResponse struct {
	State    kel.KeyState  `json:"state"`
	Tally    witness.Tally `json:"tally"`
	Pending  *event.Seal   `json:"pending,omitempty"`
	Escrowed int           `json:"escrowed"`
}

type ReceiptResponse struct {
	Digest    string `json:"digest"`
	Count     int    `json:"count"`
	Added     bool   `json:"added"`
	Buffered  bool   `json:"buffered"`
	Confirmed bool   `json:"confirmed"`
}

type DelegationRequest struct {
	Delegate string     `json:"delegate"`
	Seal     event.Seal `json:"seal"`
}

type ResolutionResponse struct {
	Status string       `json:"status"`
	Prefix string       `json:"prefix"`
	Sn     uint64       `json:"sn"`
	Digest string       `json:"digest"`
	Reason string       `json:"reason,omitempty"`
	State  kel.KeyState `json:"state"`
}

type GroupOpenRequest struct {
	Participants  []string    `json:"participants"`
	Event         []byte      `json:"event"`
	DelegatorSeal *event.Seal `json:"delegatorSeal,omitempty"`
}

type GroupPartialRequest struct {
	Group       string `json:"group"`
	Participant string `json:"participant"`
	Signature   []byte `json:"signature"`
}

type GroupMergeResponse struct {
	Digest     string             `json:"digest"`
	Complete   bool               `json:"complete"`
	Signatures []event.Signature  `json:"signatures"`
	Missing    []string           `json:"missing"`
	Admission  *AdmissionResponse `json:"admission,omitempty"`
}

type GroupPendingRequest struct {
	Group string `json:"group"`
}

type GroupPendingResponse struct {
	Group        string   `json:"group"`
	Event        []byte   `json:"event"`
	Participants []string `json:"participants"`
}

type EventRequest struct {
	Digest string `json:"digest"`
}

// EventRecord is one log entry with the signatures it was admitted with.
type EventRecord struct {
	Prefix        string            `json:"prefix"`
	Sn            uint64            `json:"sn"`
	Digest        string            `json:"digest"`
	Event         []byte            `json:"event"`
	Signatures    []event.Signature `json:"signatures"`
	DelegatorSeal *event.Seal       `json:"delegatorSeal,omitempty"`
	Receipts      []event.Receipt   `json:"receipts,omitempty"`
}

type RegistryEventRequest struct {
	Event []byte `json:"event"`
}

type RegistryEventResponse struct {
	Outcome string `json:"outcome"`
	Prefix  string `json:"prefix"`
	Digest  string `json:"digest"`
}

type CredentialRequest struct {
	Registry   string `json:"registry"`
	Credential string `json:"credential"`
}

type CredentialResponse struct {
	Status registry.CredentialStatus `json:"status"`
}

// ReceiptStreamResponse closes a receipt stream. Receipts the engine
// rejected are counted as received.
type ReceiptStreamResponse struct {
	Received int `json:"received"`
}

package model

import (
	"encoding/json"
	"testing"

	"xdao.co/kel/event"
)

func TestSnapshot_ProposeRequest_JSONShape(t *testing.T) {
	req := ProposeRequest{
		AID:        "bafy-aid-1",
		Kind:       "JSON",
		Event:      []byte("evt"),
		Signatures: []event.Signature{{Index: 0, Sig: []byte("sig")}},
	}

	b, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"aid\": \"bafy-aid-1\",\n" +
		"  \"kind\": \"JSON\",\n" +
		"  \"event\": \"ZXZ0\",\n" +
		"  \"signatures\": [\n" +
		"    {\n" +
		"      \"i\": 0,\n" +
		"      \"s\": \"c2ln\"\n" +
		"    }\n" +
		"  ]\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestSnapshot_DelegationRequest_JSONShape(t *testing.T) {
	req := DelegationRequest{
		Delegate: "bafy-delegate",
		Seal:     event.Seal{Prefix: "bafy-delegate", Sn: "0", Digest: "bafy-icp"},
	}

	b, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"delegate\": \"bafy-delegate\",\n" +
		"  \"seal\": {\n" +
		"    \"i\": \"bafy-delegate\",\n" +
		"    \"s\": \"0\",\n" +
		"    \"d\": \"bafy-icp\"\n" +
		"  }\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestSnapshot_CodedError_JSONShape(t *testing.T) {
	ce := &CodedError{Code: ErrThreshold, Rule: event.RuleThresholdNotMet, Message: "1 of 2"}
	b, err := json.Marshal(ce)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	const want = `{"code":"THRESHOLD_NOT_MET","rule":"KEL-THR-001","message":"1 of 2"}`
	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

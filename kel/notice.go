package kel

import (
	"encoding/json"
	"time"
)

// Notice is a published key state.
type Notice struct {
	State     KeyState  `json:"state"`
	Receipts  int       `json:"receipts"`
	Witnessed bool      `json:"witnessed"`
	Delegated bool      `json:"delegated"`
	IssuedAt  time.Time `json:"dt"`
	Duplicity int       `json:"duplicitous,omitempty"`
}

// Marshal renders n as JSON.
func (n Notice) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// ParseNotice decodes a Notice.
func ParseNotice(b []byte) (Notice, error) {
	var n Notice
	err := json.Unmarshal(b, &n)
	return n, err
}

// NewNotice wraps s in a Notice with no witness or delegation context.
func NewNotice(s KeyState) Notice {
	return Notice{State: s, Delegated: s.IsDelegated()}
}

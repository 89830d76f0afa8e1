package storeregistry

// Usage restricts which programs should accept a given backend.
//
// Backends are linked at build time: a backend registers itself via init()
// and is enabled in a binary by importing its package (often as a blank
// import).
type Usage uint8

const (
	// UsageCLI marks backends usable from the kli client for offline work.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends usable by keld.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

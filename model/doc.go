// Package model defines stable boundary types for API layers.
//
// Event identity (serialized bytes and their SAIDs) is unaffected by any
// projection. These structs are the only types intended for direct JSON
// serialization by transports and command-line clients.
package model

package storage

import "errors"

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrConflict      = errors.New("storage: sequence number already holds a different event")
	ErrOutOfSequence = errors.New("storage: record is not the next in its log")
	ErrInvalidRecord = errors.New("storage: invalid record")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// CheckRecord rejects records missing their identifying fields.
func CheckRecord(rec Record) error {
	if rec.Prefix == "" || rec.Digest == "" || len(rec.Raw) == 0 {
		return ErrInvalidRecord
	}
	return nil
}

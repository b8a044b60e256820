package chain

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Payload is the domain record carried by an entry: named compliance fields
// such as project identifiers, measurements or free-text reports.
type Payload map[string]any

// Entry is a single record in the chain.
type Entry struct {
	Sequence int64   `json:"sequence"`
	Payload  Payload `json:"payload"`
	Hash     string  `json:"hash"`
	PrevHash string  `json:"prev_hash"`

	// decodeErr is set when the stored payload bytes could not be decoded.
	decodeErr error
}

// RestoreEntry rebuilds an entry from its persisted form. A payload that no
// longer decodes is not an error here: the entry is returned with a nil
// Payload and Verify reports it as malformed.
func RestoreEntry(seq int64, rawPayload []byte, hash, prevHash string) *Entry {
	e := &Entry{Sequence: seq, Hash: hash, PrevHash: prevHash}
	p, err := DecodePayload(rawPayload)
	if err != nil {
		e.decodeErr = err
		return e
	}
	e.Payload = p
	return e
}

// Malformed reports whether the entry's stored payload failed to decode.
func (e *Entry) Malformed() bool { return e.decodeErr != nil }

// DecodePayload parses a JSON object into a Payload. Numbers are kept as
// json.Number so that re-encoding reproduces their original text.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, &SerializationError{Err: err}
	}
	if p == nil {
		return nil, &SerializationError{Err: errors.New("payload must be a JSON object")}
	}
	if dec.More() {
		return nil, &SerializationError{Err: errors.New("trailing data after payload object")}
	}
	return p, nil
}

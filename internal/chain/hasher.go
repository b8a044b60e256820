package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Genesis is the prev_hash of the first entry of every chain. Real digests are
// 64 lowercase hex characters, so the sentinel can never collide with one.
const Genesis = "GENESIS"

// Canonical returns the byte encoding of p that hashes are computed over.
//
// The encoding is JSON with object keys sorted by byte value at every depth,
// strings and keys in Unicode NFC, no insignificant whitespace and HTML
// characters left unescaped. json.Number values are written verbatim; Go
// integers and finite floats use their shortest decimal form. A nil payload
// encodes as "{}". Values are limited to what DecodePayload produces plus
// native numbers: structs, json.RawMessage, typed maps or slices, invalid
// UTF-8 and non-finite floats fail with *SerializationError. Decoding the
// output with DecodePayload and encoding it again yields the same bytes,
// which is what lets stored entries be re-verified later.
func Canonical(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	if err := marshalCanonicalObject(&buf, p); err != nil {
		return nil, &SerializationError{Err: err}
	}
	return buf.Bytes(), nil
}

// ComputeHash returns the lowercase hex SHA-256 of Canonical(p) followed by
// the raw bytes of prevHash, with no separator.
func ComputeHash(p Payload, prevHash string) (string, error) {
	canon, err := Canonical(p)
	if err != nil {
		return "", err
	}
	return hashCanonical(canon, prevHash), nil
}

func hashCanonical(canon []byte, prevHash string) string {
	h := sha256.New()
	h.Write(canon)
	io.WriteString(h, prevHash) //nolint:errcheck
	return hex.EncodeToString(h.Sum(nil))
}

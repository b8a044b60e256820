package chain

// Reason classifies why a chain failed verification.
type Reason string

const (
	// ReasonEmptyChain: there is no genesis entry, so no chain is established.
	ReasonEmptyChain Reason = "empty_chain"
	// ReasonBadGenesis: the first entry does not chain from Genesis.
	ReasonBadGenesis Reason = "bad_genesis"
	// ReasonHashMismatch: the stored hash differs from the recomputed one.
	ReasonHashMismatch Reason = "hash_mismatch"
	// ReasonBrokenLink: prev_hash differs from the predecessor's hash.
	ReasonBrokenLink Reason = "broken_link"
	// ReasonMalformedPayload: the stored payload no longer decodes or encodes.
	ReasonMalformedPayload Reason = "malformed_payload"
)

// Result is the outcome of verifying a sequence of entries. A negative result
// is an expected outcome, not an error.
type Result struct {
	Valid        bool   `json:"valid"`
	FailureIndex *int   `json:"failure_index,omitempty"`
	Reason       Reason `json:"reason,omitempty"`
	Length       int    `json:"length"`
}

// Verify checks entries, in the given order, against the content and link
// rules. It stops at the earliest failing index. At each index the
// content check runs first, then the genesis check (index 0) or the link
// check against the predecessor.
//
// An empty slice is reported invalid with ReasonEmptyChain.
func Verify(entries []*Entry) Result {
	n := len(entries)
	if n == 0 {
		return Result{Reason: ReasonEmptyChain}
	}

	for i, e := range entries {
		if e == nil || e.Malformed() {
			return failAt(i, ReasonMalformedPayload, n)
		}

		expected, err := ComputeHash(e.Payload, e.PrevHash)
		if err != nil {
			return failAt(i, ReasonMalformedPayload, n)
		}
		if expected != e.Hash {
			return failAt(i, ReasonHashMismatch, n)
		}

		if i == 0 {
			if e.PrevHash != Genesis {
				return failAt(i, ReasonBadGenesis, n)
			}
			continue
		}
		if e.PrevHash != entries[i-1].Hash {
			return failAt(i, ReasonBrokenLink, n)
		}
	}
	return Result{Valid: true, Length: n}
}

func failAt(i int, reason Reason, n int) Result {
	return Result{FailureIndex: &i, Reason: reason, Length: n}
}

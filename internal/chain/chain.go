// Package chain implements the hash-chain engine of the compliance ledger.
//
// Every entry stores the SHA-256 of its canonical payload concatenated with
// the hash of its predecessor. The first entry chains from the Genesis
// sentinel instead of a digest, so rewriting any historical payload, hash or
// link is detectable by Verify.
//
// The package is stateless. Persistence is delegated to a Store, which must
// serialise append scopes so that two appends can never observe the same tail.
package chain

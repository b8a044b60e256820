package chain

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// AppendRecorder is an optional callback invoked after every append attempt.
type AppendRecorder func(success bool)

// VerifyRecorder is an optional callback invoked with every verification result.
type VerifyRecorder func(res Result)

// Ledger builds and verifies the chain held by a Store. It keeps no chain
// state between calls; the store handle is its only collaborator.
type Ledger struct {
	store    Store
	onAppend AppendRecorder
	onVerify VerifyRecorder
	logger   *zap.Logger
}

// NewLedger creates a Ledger over store.
func NewLedger(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// SetAppendRecorder configures the append metrics callback.
func (l *Ledger) SetAppendRecorder(fn AppendRecorder) { l.onAppend = fn }

// SetVerifyRecorder configures the verification metrics callback.
func (l *Ledger) SetVerifyRecorder(fn VerifyRecorder) { l.onVerify = fn }

// Append chains payload onto the current tail and persists it.
//
// The payload is canonicalized before any store access, so a
// *SerializationError means nothing was read or written. Store failures,
// including cancellation before commit, are returned as *StoreError and leave
// no entry behind. Append never retries.
func (l *Ledger) Append(ctx context.Context, payload Payload) (*Entry, error) {
	entry, err := l.append(ctx, payload)
	if l.onAppend != nil {
		l.onAppend(err == nil)
	}
	return entry, err
}

func (l *Ledger) append(ctx context.Context, payload Payload) (*Entry, error) {
	canon, err := Canonical(payload)
	if err != nil {
		return nil, err
	}

	var appended *Entry
	err = l.store.InAppendTx(ctx, func(ctx context.Context, tx AppendTx) error {
		tail, err := tx.LastEntry(ctx)
		if err != nil {
			return &StoreError{Op: "read chain tail", Err: err}
		}

		prevHash := Genesis
		if tail != nil {
			prevHash = tail.Hash
		}

		e, err := tx.AppendEntry(ctx, payload, hashCanonical(canon, prevHash), prevHash)
		if err != nil {
			return &StoreError{Op: "append entry", Err: err}
		}
		appended = e

		// Do not commit for a caller that has already gone away.
		if err := ctx.Err(); err != nil {
			return &StoreError{Op: "append entry", Err: err}
		}
		return nil
	})
	if err != nil {
		var se *StoreError
		if !errors.As(err, &se) {
			err = &StoreError{Op: "commit entry", Err: err}
		}
		l.logger.Error("ledger append failed", zap.Error(err))
		return nil, err
	}

	l.logger.Debug("ledger entry appended",
		zap.Int64("sequence", appended.Sequence),
		zap.String("hash", appended.Hash),
		zap.String("prev_hash", appended.PrevHash),
	)
	return appended, nil
}

// Entries returns the whole chain in sequence order.
func (l *Ledger) Entries(ctx context.Context) ([]*Entry, error) {
	entries, err := l.store.ReadAllOrdered(ctx)
	if err != nil {
		return nil, &StoreError{Op: "read ledger", Err: err}
	}
	return entries, nil
}

// Verify reads the whole chain and verifies it. An error is returned only
// when the store cannot be read; tampering is reported through the Result.
func (l *Ledger) Verify(ctx context.Context) (Result, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return Result{}, err
	}
	return l.VerifyEntries(entries), nil
}

// VerifyEntries is Verify over an already-read chain, with logging and
// metrics applied.
func (l *Ledger) VerifyEntries(entries []*Entry) Result {
	res := Verify(entries)
	if l.onVerify != nil {
		l.onVerify(res)
	}
	if !res.Valid {
		fields := []zap.Field{
			zap.String("reason", string(res.Reason)),
			zap.Int("length", res.Length),
		}
		if res.FailureIndex != nil {
			fields = append(fields, zap.Int("failure_index", *res.FailureIndex))
		}
		l.logger.Warn("ledger integrity check failed", fields...)
	}
	return res
}

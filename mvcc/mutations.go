package mvcc

import "github.com/tinykv-io/tinykv/proto/pkg/kvrpcpb"

// PrewriteOptions carries the per-request flags a prewrite is evaluated
// under; SkipConstraintCheck skips the write-conflict scan, used for
// idempotent retries the client already knows are conflict-free.
type PrewriteOptions struct {
	SkipConstraintCheck bool
}

func writeKindOf(op kvrpcpb.Op) WriteKind {
	switch op {
	case kvrpcpb.Op_Del:
		return WriteKindDelete
	case kvrpcpb.Op_Lock:
		return WriteKindLock
	default:
		return WriteKindPut
	}
}

// Prewrite stages one mutation of the transaction: check for conflicts,
// check for an existing lock, then write the lock (and, for long Put
// values, the default-CF row).
func (txn *MvccTxn) Prewrite(mutation *kvrpcpb.Mutation, primary []byte, ttl uint64, opts PrewriteOptions) error {
	key := mutation.Key
	if !opts.SkipConstraintCheck {
		write, commitTs, err := txn.SeekWrite(key, TsMax)
		if err != nil {
			return err
		}
		if write != nil && commitTs >= txn.StartTS {
			return &ErrWriteConflict{StartTS: txn.StartTS, ConflictTS: commitTs, Key: key, Primary: primary}
		}
	}

	lock, err := txn.GetLock(key)
	if err != nil {
		return err
	}
	if lock != nil {
		if lock.Ts != txn.StartTS {
			return &ErrKeyIsLocked{Key: key, Primary: lock.Primary, StartTS: lock.Ts, Ttl: lock.Ttl}
		}
		// Same start_ts: this prewrite already landed, succeed idempotently.
		return nil
	}

	kind := writeKindOf(mutation.Op)
	var shortValue []byte
	if kind == WriteKindPut {
		if len(mutation.Value) <= ShortValueThreshold {
			shortValue = mutation.Value
		} else {
			txn.PutValue(key, txn.StartTS, mutation.Value)
		}
	}
	txn.PutLock(key, NewLock(primary, txn.StartTS, ttl, kind, shortValue))
	return nil
}

// Commit finalizes a previously prewritten mutation at commitTs.
func (txn *MvccTxn) Commit(key []byte, commitTs uint64) error {
	lock, err := txn.GetLock(key)
	if err != nil {
		return err
	}
	if lock != nil && lock.Ts == txn.StartTS {
		txn.PutWrite(key, commitTs, NewWrite(txn.StartTS, lock.Kind.toLockKind(), lock.ShortValue))
		txn.DeleteLock(key)
		return nil
	}

	// No matching lock: either already committed, already rolled back, or
	// never prewritten.
	write, _, err := txn.FindWrite(key, txn.StartTS)
	if err != nil {
		return err
	}
	if write == nil {
		return &ErrTxnLockNotFound{StartTS: txn.StartTS, Key: key}
	}
	if write.IsRollback() {
		return &ErrTxnLockNotFound{StartTS: txn.StartTS, Key: key}
	}
	// Already committed by a previous, possibly retried, Commit call.
	return nil
}

// Rollback undoes a prewritten (but not yet committed) mutation, or plants
// a tombstone so a future prewrite at the same start_ts is rejected.
func (txn *MvccTxn) Rollback(key []byte) error {
	lock, err := txn.GetLock(key)
	if err != nil {
		return err
	}
	if lock != nil && lock.Ts == txn.StartTS {
		if lock.Kind == WriteKindPut && lock.ShortValue == nil {
			txn.DeleteValue(key, txn.StartTS)
		}
		txn.DeleteLock(key)
		txn.PutWrite(key, txn.StartTS, NewWrite(txn.StartTS, WriteKindRollback, nil))
		return nil
	}

	write, commitTs, err := txn.FindWrite(key, txn.StartTS)
	if err != nil {
		return err
	}
	if write != nil {
		if write.IsRollback() {
			return nil
		}
		return &ErrAlreadyCommitted{CommitTS: commitTs}
	}
	// Neither a lock nor a commit record exists yet: plant a rollback
	// tombstone so a prewrite that arrives late at this start_ts is blocked.
	txn.PutWrite(key, txn.StartTS, NewWrite(txn.StartTS, WriteKindRollback, nil))
	return nil
}

// Get reads the value visible to readTs under the given isolation level.
func (txn *MvccTxn) Get(key []byte, readTs uint64, isolation kvrpcpb.IsolationLevel) ([]byte, error) {
	effectiveTs := readTs
	if isolation == kvrpcpb.IsolationLevel_SI {
		lock, err := txn.GetLock(key)
		if err != nil {
			return nil, err
		}
		if lock != nil && lock.Ts <= readTs {
			if readTs == TsMax && bytesEqual(key, lock.Primary) {
				effectiveTs = lock.Ts - 1
			} else {
				return nil, &ErrKeyIsLocked{Key: key, Primary: lock.Primary, StartTS: lock.Ts, Ttl: lock.Ttl}
			}
		}
	}

	seekTs := effectiveTs
	for {
		write, commitTs, err := txn.SeekWrite(key, seekTs)
		if err != nil {
			return nil, err
		}
		if write == nil {
			return nil, nil
		}
		switch write.Kind {
		case WriteKindPut:
			return txn.GetValue(key, write)
		case WriteKindDelete:
			return nil, nil
		default:
			if commitTs == 0 {
				return nil, nil
			}
			seekTs = commitTs - 1
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

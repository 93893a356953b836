package mvcc

import "fmt"

// ErrKeyIsLocked is returned when a read or a prewrite finds a conflicting
// lock it cannot safely ignore. The client is expected to resolve the lock
// (commit or roll back its owning transaction) and retry.
type ErrKeyIsLocked struct {
	Key     []byte
	Primary []byte
	StartTS uint64
	Ttl     uint64
}

func (e *ErrKeyIsLocked) Error() string {
	return fmt.Sprintf("key is locked, key: %q, primary: %q, startTS: %d", e.Key, e.Primary, e.StartTS)
}

// ErrWriteConflict is returned by Prewrite when a later-committed version
// already exists for a key the transaction wants to lock.
type ErrWriteConflict struct {
	StartTS    uint64
	ConflictTS uint64
	Key        []byte
	Primary    []byte
}

func (e *ErrWriteConflict) Error() string {
	return fmt.Sprintf("write conflict, startTS: %d, conflictTS: %d, key: %q", e.StartTS, e.ConflictTS, e.Key)
}

// ErrAlreadyCommitted is returned by Rollback when the transaction it's
// asked to roll back has, in fact, already committed.
type ErrAlreadyCommitted struct {
	CommitTS uint64
}

func (e *ErrAlreadyCommitted) Error() string {
	return fmt.Sprintf("transaction already committed at %d", e.CommitTS)
}

// ErrTxnLockNotFound is returned by Commit when no live lock for start_ts
// exists and the write CF holds no commit record for it: either there is no
// record at all (the transaction was never prewritten, or its lock was
// resolved away by someone else) or the record is a rollback.
type ErrTxnLockNotFound struct {
	StartTS uint64
	Key     []byte
}

func (e *ErrTxnLockNotFound) Error() string {
	return fmt.Sprintf("transaction lock not found, startTS: %d, key: %q", e.StartTS, e.Key)
}

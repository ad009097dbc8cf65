package packetset

import (
	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/par3/pkg/hashing"
)

// DiskIndex is a fingerprint-dedup set backed by BadgerDB, used in place of
// Manager's in-memory map when a run's memory_limit configuration is too
// tight to hold one entry per packet for very large input sets.
type DiskIndex struct {
	db *badgerdb.DB
}

// OpenDiskIndex opens (creating if needed) a BadgerDB instance rooted at
// dir for fingerprint dedup bookkeeping.
func OpenDiskIndex(dir string) (*DiskIndex, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}
	return &DiskIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (d *DiskIndex) Close() error { return d.db.Close() }

// Seen reports whether fp has already been marked.
func (d *DiskIndex) Seen(fp hashing.Fingerprint) (bool, error) {
	seen := false
	err := d.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(fp[:])
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	return seen, err
}

// Mark records fp as seen. It is safe to call Mark on an already-seen
// fingerprint.
func (d *DiskIndex) Mark(fp hashing.Fingerprint) error {
	return d.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(fp[:], []byte{1})
	})
}

// SeenOrMark is the common check-then-set path: it reports whether fp was
// already present, and marks it if not, in one transaction.
func (d *DiskIndex) SeenOrMark(fp hashing.Fingerprint) (alreadySeen bool, err error) {
	err = d.db.Update(func(txn *badgerdb.Txn) error {
		_, getErr := txn.Get(fp[:])
		if getErr == nil {
			alreadySeen = true
			return nil
		}
		if getErr != badgerdb.ErrKeyNotFound {
			return getErr
		}
		return txn.Set(fp[:], []byte{1})
	})
	return alreadySeen, err
}

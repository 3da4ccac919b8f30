// Package audit implements a write-only, per-peer piece-completion ledger
// backed by github.com/boltdb/bolt. It supplements spec.md's persisted
// state (the reconstructed file itself) with operational history — which
// remote peer a piece arrived from, and when — grounded in
// session/sessiontorrent.go's use of bolt.Update transactions for
// Torrent.Start/Stop bookkeeping. The ledger is never read back to seed
// local piece state, so it does not implement resume (spec.md's explicit
// non-goal): it is a receipt, not a cache.
package audit

import (
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
)

var piecesBucket = []byte("pieces")

// Ledger is a handle on one peer's audit database.
type Ledger struct {
	db *bolt.DB
}

// Open creates or opens the bolt database at path and ensures the pieces
// bucket exists.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(piecesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordCompletion records that piece index was completed, received from
// sourcePeerID, at when.
func (l *Ledger) RecordCompletion(index int, sourcePeerID int32, when time.Time) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(piecesBucket)
		key := make([]byte, 4)
		binary.BigEndian.PutUint32(key, uint32(index))
		val := make([]byte, 12)
		binary.BigEndian.PutUint32(val, uint32(sourcePeerID))
		binary.BigEndian.PutUint64(val[4:], uint64(when.UnixNano()))
		return b.Put(key, val)
	})
}

// Entry is one decoded ledger row, as returned by All. The `inspect` CLI
// subcommand browses the raw database with boltbrowser instead.
type Entry struct {
	Index        int
	SourcePeerID int32
	When         time.Time
}

// All returns every recorded completion, in bucket (ascending index) order.
func (l *Ledger) All() ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(piecesBucket)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 4 || len(v) != 12 {
				return nil
			}
			out = append(out, Entry{
				Index:        int(binary.BigEndian.Uint32(k)),
				SourcePeerID: int32(binary.BigEndian.Uint32(v)),
				When:         time.Unix(0, int64(binary.BigEndian.Uint64(v[4:]))),
			})
			return nil
		})
	})
	return out, err
}

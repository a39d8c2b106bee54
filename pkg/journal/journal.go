// Package journal persists an append-only audit trail of executed
// transactions in a pebble database. The journal is write-only from the
// engine's point of view: the exchange never reads it back to rebuild state.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"stockmart/pkg/exchange"
)

// keys: t:<8-byte big-endian sequence> -> JSON transaction
var prefix = []byte("t:")

func key(seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

// Journal is safe for concurrent appenders.
type Journal struct {
	mu   sync.Mutex
	db   *pebble.DB
	next uint64
}

// Open creates or reopens a journal at path. When reopening, appends continue
// after the highest existing sequence number.
func Open(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.seekLast(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) seekLast() error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: key(0),
		UpperBound: key(^uint64(0)),
	})
	if err != nil {
		return fmt.Errorf("journal iterator: %w", err)
	}
	defer iter.Close()
	if iter.Last() && iter.Valid() {
		last := binary.BigEndian.Uint64(iter.Key()[len(prefix):])
		j.next = last + 1
	}
	return nil
}

// Append records one transaction.
func (j *Journal) Append(tx exchange.Transaction) error {
	val, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.db.Set(key(j.next), val, pebble.Sync); err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	j.next++
	return nil
}

// Len returns the number of journaled transactions.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next
}

// Replay calls fn for every journaled transaction in append order. fn
// returning false stops the scan.
func (j *Journal) Replay(fn func(exchange.Transaction) bool) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: key(0),
		UpperBound: key(^uint64(0)),
	})
	if err != nil {
		return fmt.Errorf("journal iterator: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var tx exchange.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			return fmt.Errorf("decode journal entry: %w", err)
		}
		if !fn(tx) {
			break
		}
	}
	return iter.Error()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

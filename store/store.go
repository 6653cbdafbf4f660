// Package store persists the block sequence of a node in a bolt database so
// that a restarted node resumes from its last chain.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/luca-patrignani/darshcoin/ledger"
)

const (
	blocksBucket = "blocks"
	metaBucket   = "meta"
	lastHashKey  = "l"
)

// ErrCorrupted is returned by Load when the stored blocks do not form a
// contiguous sequence or do not end with the recorded last hash.
var ErrCorrupted = errors.New("corrupted block store")

// Store is a bolt-backed snapshot of a chain. Blocks are keyed by their
// big-endian index and stored as JSON.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open block store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(blocksBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize block store: %w", err), db.Close())
	}
	return &Store{db: db}, nil
}

// Save replaces the stored chain with blocks in a single transaction.
func (s *Store) Save(blocks []ledger.Block) error {
	if len(blocks) == 0 {
		return ledger.ErrEmptyChain
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(blocksBucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket([]byte(blocksBucket))
		if err != nil {
			return err
		}
		for _, block := range blocks {
			encoded, err := json.Marshal(block)
			if err != nil {
				return fmt.Errorf("failed to encode block %d: %w", block.Index, err)
			}
			if err := b.Put(indexKey(block.Index), encoded); err != nil {
				return err
			}
		}
		last := ledger.Hash(blocks[len(blocks)-1])
		return tx.Bucket([]byte(metaBucket)).Put([]byte(lastHashKey), []byte(last))
	})
}

// Load returns the stored chain in index order, or nil if nothing was saved.
func (s *Store) Load() ([]ledger.Block, error) {
	var blocks []ledger.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(blocksBucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var block ledger.Block
			if err := json.Unmarshal(v, &block); err != nil {
				return fmt.Errorf("%w: block %d: %v", ErrCorrupted, binary.BigEndian.Uint64(k), err)
			}
			if block.Index != len(blocks)+1 {
				return fmt.Errorf("%w: expected block %d, found %d", ErrCorrupted, len(blocks)+1, block.Index)
			}
			blocks = append(blocks, block)
		}
		if len(blocks) == 0 {
			return nil
		}
		last := tx.Bucket([]byte(metaBucket)).Get([]byte(lastHashKey))
		if string(last) != ledger.Hash(blocks[len(blocks)-1]) {
			return fmt.Errorf("%w: last block hash mismatch", ErrCorrupted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func indexKey(index int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}

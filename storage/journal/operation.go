package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/vmihailenco/msgpack/v4"
)

// ErrNotFound is returned when a journal key does not exist.
var ErrNotFound = errors.New("journal key not found")

const (
	codeRun           = 1
	codeOutcome       = 10
	codeDropped       = 11
	codeVulnerability = 20
	codeSample        = 21
)

func makePrefix(code byte, keys ...uint64) []byte {
	prefix := make([]byte, 1+8*len(keys))
	prefix[0] = code
	for i, k := range keys {
		binary.BigEndian.PutUint64(prefix[1+8*i:], k)
	}
	return prefix
}

// upsert encodes entity with msgpack and stores it under key, replacing any
// existing value.
func upsert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		val, err := msgpack.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// retrieve decodes the value under key into entity.
func retrieve(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}
		err = item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, entity)
		})
		if err != nil {
			return fmt.Errorf("could not decode entity: %w", err)
		}
		return nil
	}
}

// traverse decodes every value whose key starts with prefix, in key order.
// create returns the decode target of the next value; handle is called once
// it has been decoded.
func traverse(prefix []byte, create func() interface{}, handle func() error) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			entity := create()
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, entity)
			})
			if err != nil {
				return fmt.Errorf("could not decode entity at %x: %w", it.Item().Key(), err)
			}
			err = handle()
			if err != nil {
				return err
			}
		}
		return nil
	}
}

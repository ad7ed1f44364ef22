package keyValStore

import (
	"fmt"
	"sync/atomic"

	"github.com/revgraph/revgraph/pkg/types"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

type StoreConfig struct {
	Paths            []string // absolute path, at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
}

// KeyValStore wraps the badger database behind the small surface the index
// components need: plain writes, batch writes, reads and prefix scans. All
// published index data is append-only; DeletePrefix exists solely for the
// journal and for sweeping the keys of a discarded extension.
type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %v: %w", config.Paths[0], err, types.ErrStorageUnavailable)
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		log.Error("write key: ", err)
		return fmt.Errorf("write key: %v: %w", err, types.ErrStorageUnavailable)
	}
	return nil
}

// WriteBatch stores all pairs in one transaction; either all land or none.
func (k *KeyValStore) WriteBatch(batch [][2][]byte) error {
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		for _, kv := range batch {
			atomic.AddUint64(&k.writeCounter, 1)
			if err := txn.Set(kv[0], kv[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error("write batch: ", err)
		return fmt.Errorf("write batch of %d keys: %v: %w", len(batch), err, types.ErrStorageUnavailable)
	}
	return nil
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&k.readCounter, 1)

	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read key: %v: %w", err, types.ErrStorageUnavailable)
	}
	return value, nil
}

func (k *KeyValStore) Has(key []byte) (bool, error) {
	atomic.AddUint64(&k.readCounter, 1)

	err := k.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check key: %v: %w", err, types.ErrStorageUnavailable)
	}
	return true, nil
}

// ReadPrefix returns all pairs under prefix in key order.
func (k *KeyValStore) ReadPrefix(prefix []byte) ([][2][]byte, error) {
	var result [][2][]byte

	err := k.badgerDB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			atomic.AddUint64(&k.readCounter, 1)
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result = append(result, [2][]byte{key, value})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan prefix %q: %v: %w", prefix, err, types.ErrStorageUnavailable)
	}
	return result, nil
}

// DeletePrefix removes all keys under prefix. Only the journal and the
// discard sweep of a failed extension use this; published index data is
// never deleted.
func (k *KeyValStore) DeletePrefix(prefix []byte) error {
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete prefix %q: %v: %w", prefix, err, types.ErrStorageUnavailable)
	}
	return nil
}

// Counters reports reads and writes since start. Used by the CLI for a rough
// operations summary after an indexing run.
func (k *KeyValStore) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&k.readCounter), atomic.LoadUint64(&k.writeCounter)
}

func (k *KeyValStore) Close() error {
	return k.badgerDB.Close()
}

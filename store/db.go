/*
Package store implements the durable stores consensus recovers from:
the certificate store and the consensus metadata store.
Both share one goleveldb instance, separated by key prefixes.
*/
package store

import (
	"encoding/binary"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var (
	// ErrNotFound is returned when a key is absent from the store.
	ErrNotFound = errors.New("not found in store")
)

// DB wraps the leveldb handle shared by the stores.
type DB struct {
	db *leveldb.DB
}

// Open opens (or creates) a database in the directory path.
func Open(path string) (*DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open store at %s", path)
	}
	return &DB{db: db}, nil
}

// OpenMemory opens a database that lives in memory only.
func OpenMemory() (*DB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open memory store")
	}
	return &DB{db: db}, nil
}

// Close releases the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read key %x", key)
	}
	return v, nil
}

func (d *DB) write(batch *leveldb.Batch) error {
	if err := d.db.Write(batch, nil); err != nil {
		return pkgerrors.Wrap(err, "write batch")
	}
	return nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func genKey(prefix string, parts ...[]byte) []byte {
	key := []byte(prefix)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

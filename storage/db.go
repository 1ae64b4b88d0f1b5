package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned when a key is not in the store.
var ErrNotFound = errors.New("not found")

// db is a thin wrapper over pebble with copying reads and prefix
// iteration.
type db struct {
	pebble *pebble.DB
}

func openDB(path string, fs vfs.FS) (*db, error) {
	o := &pebble.Options{
		Levels: []pebble.LevelOptions{
			{Compression: pebble.SnappyCompression},
		},
	}
	if fs != nil {
		o.FS = fs
	} else if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, err
	}
	p, err := pebble.Open(path, o)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return &db{pebble: p}, nil
}

func (d *db) get(k []byte) ([]byte, error) {
	v, closer, err := d.pebble.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// the value is only valid until closer is closed
	out := make([]byte, len(v))
	copy(out, v)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *db) set(k, v []byte) error {
	return d.pebble.Set(k, v, pebble.Sync)
}

func (d *db) delete(k []byte) error {
	return d.pebble.Delete(k, pebble.Sync)
}

// iterate calls callback with the keys under prefix, without the prefix,
// until it returns false.
func (d *db) iterate(prefix []byte, callback func(k, v []byte) bool) (err error) {
	iter, err := d.pebble.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer func() {
		errC := iter.Close()
		if err == nil {
			err = errC
		}
	}()
	for iter.First(); iter.Valid(); iter.Next() {
		if !callback(iter.Key()[len(prefix):], iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (d *db) close() error {
	return d.pebble.Close()
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

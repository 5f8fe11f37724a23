package store

import (
	"context"
	"fmt"
	"io"

	ds "github.com/ipfs/go-datastore"
	badger4 "github.com/ipfs/go-ds-badger4"
)

var _ Snapshotter = (*DefaultStore)(nil)

// Backup streams a snapshot of the badger database into writer. The returned
// version can be passed as since to take an incremental backup.
func (s *DefaultStore) Backup(ctx context.Context, writer io.Writer, since uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	db, err := badgerOf(s.db)
	if err != nil {
		return 0, err
	}
	version, err := db.DB.Backup(writer, since)
	if err != nil {
		return 0, fmt.Errorf("badger backup failed: %w", err)
	}
	return version, nil
}

// Restore loads a backup taken with Backup into the badger database.
func (s *DefaultStore) Restore(ctx context.Context, reader io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := badgerOf(s.db)
	if err != nil {
		return err
	}
	if err := db.DB.Load(reader, 16); err != nil {
		return fmt.Errorf("badger restore failed: %w", err)
	}
	return nil
}

// badgerOf unwraps prefix and mutex wrappers down to the badger datastore.
func badgerOf(d ds.Datastore) (*badger4.Datastore, error) {
	seen := make(map[ds.Datastore]struct{})
	for d != nil {
		if db, ok := d.(*badger4.Datastore); ok {
			return db, nil
		}
		if _, ok := seen[d]; ok {
			break
		}
		seen[d] = struct{}{}

		shim, ok := d.(ds.Shim)
		if !ok || len(shim.Children()) == 0 {
			break
		}
		d = shim.Children()[0]
	}
	return nil, fmt.Errorf("snapshots are only supported for badger4 datastores")
}

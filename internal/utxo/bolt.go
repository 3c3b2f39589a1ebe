package utxo

import (
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketUtxo     = []byte("utxo")
	bucketUndo     = []byte("undo")
	bucketAccounts = []byte("accounts")
	bucketMeta     = []byte("meta")

	keyTip = []byte("tip")
)

// BoltBackend keeps the UTXO set in a single bbolt file. Every batch is one bbolt
// read-write transaction, so a crash leaves either the old or the new state.
type BoltBackend struct {
	db *bolt.DB
}

func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.NewStorageError("failed to open utxo db %s", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUtxo, bucketUndo, bucketAccounts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.NewStorageError("failed to create utxo buckets", err)
	}

	log.Debugf("UTXO db opened, path: %s", path)
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Get(id types.UtxoId) (*types.Output, error) {
	var out *types.Output
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUtxo).Get(id.Key())
		if raw == nil {
			return nil
		}
		var err error
		out, err = outputFromBytes(raw)
		return err
	})
	if err != nil {
		return nil, errors.NewStorageError("failed to read utxo %s", id, err)
	}
	return out, nil
}

func (b *BoltBackend) Balance(addr common.Address) (*uint256.Int, error) {
	bal := new(uint256.Int)
	err := b.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketAccounts).Get(addr.Bytes()); raw != nil {
			bal.SetBytes(raw)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageError("failed to read balance of %s", addr.Hex(), err)
	}
	return bal, nil
}

func (b *BoltBackend) Undo(blockHash types.Hash) (*UndoRecord, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw = bytes.Clone(tx.Bucket(bucketUndo).Get(blockHash[:]))
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageError("failed to read undo record", err)
	}
	if raw == nil {
		return nil, errors.NewNotFoundError("undo record for block %s", blockHash)
	}
	u, err := undoFromBytes(raw)
	if err != nil {
		return nil, errors.NewStorageError("corrupt undo record for block %s", blockHash, err)
	}
	return u, nil
}

func (b *BoltBackend) Tip() (TipMeta, error) {
	var tip TipMeta
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyTip)
		if raw == nil {
			return nil
		}
		var err error
		tip, err = tipFromBytes(raw)
		return err
	})
	if err != nil {
		return TipMeta{}, errors.NewStorageError("failed to read tip", err)
	}
	return tip, nil
}

func (b *BoltBackend) Write(batch *Batch) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		utxos := tx.Bucket(bucketUtxo)
		for _, id := range batch.Deletes {
			if err := utxos.Delete(id.Key()); err != nil {
				return err
			}
		}
		for _, e := range batch.Puts {
			if err := utxos.Put(e.ID.Key(), outputBytes(e.Output)); err != nil {
				return err
			}
		}

		accounts := tx.Bucket(bucketAccounts)
		for addr, bal := range batch.Accounts {
			if bal.IsZero() {
				if err := accounts.Delete(addr.Bytes()); err != nil {
					return err
				}
				continue
			}
			raw := bal.Bytes32()
			if err := accounts.Put(addr.Bytes(), raw[:]); err != nil {
				return err
			}
		}

		undo := tx.Bucket(bucketUndo)
		if batch.PutUndo != nil {
			if err := undo.Put(batch.UndoHash[:], batch.PutUndo.Bytes()); err != nil {
				return err
			}
		}
		if batch.DeleteUndo {
			if err := undo.Delete(batch.UndoHash[:]); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMeta).Put(keyTip, tipBytes(batch.Tip))
	})
	if err != nil {
		return errors.NewStorageError("failed to write utxo batch", err)
	}
	return nil
}

func (b *BoltBackend) ForEach(fn func(id types.UtxoId, out *types.Output) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUtxo).ForEach(func(k, v []byte) error {
			id, err := types.UtxoIdFromKey(k)
			if err != nil {
				return err
			}
			out, err := outputFromBytes(v)
			if err != nil {
				return err
			}
			return fn(id, out)
		})
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

package utxo

import (
	"bytes"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
)

// Store is the authoritative state of one ledger: the UTXO set, the tip it
// reflects and, when account tracking is on, the balance view derived from
// pay-to-pubkey outputs. Readers share the lock; Commit and Revert are exclusive
// and write one atomic batch each.
type Store struct {
	mu            sync.RWMutex
	backend       Backend
	trackAccounts bool
	logger        *log.Entry
}

func NewStore(backend Backend, trackAccounts bool) *Store {
	return &Store{
		backend:       backend,
		trackAccounts: trackAccounts,
		logger:        log.WithFields(log.Fields{"module": "utxo"}),
	}
}

func (s *Store) Get(id types.UtxoId) (*types.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Get(id)
}

func (s *Store) Tip() (TipMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Tip()
}

func (s *Store) Balance(addr common.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Balance(addr)
}

func (s *Store) NewStage() *Stage {
	return NewStage(s)
}

// Commit applies a block's stage. The stage must have been built directly on this
// store while it was at the block's parent.
func (s *Store) Commit(blockHash types.Hash, height uint64, stage *Stage) error {
	if stage.parent != Source(s) {
		return errors.NewInvalidArgumentError("stage was not built on this store")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevTip, err := s.backend.Tip()
	if err != nil {
		return err
	}

	spent := stage.Spent()
	created := stage.Created()

	batch := &Batch{
		Deletes:  make([]types.UtxoId, len(spent)),
		Puts:     created,
		UndoHash: blockHash,
		PutUndo: &UndoRecord{
			PrevTip: prevTip,
			Spent:   spent,
			Created: make([]types.UtxoId, len(created)),
		},
		Tip: TipMeta{Hash: blockHash, Height: height, Set: true},
	}
	for i, sp := range spent {
		batch.Deletes[i] = sp.ID
	}
	for i, c := range created {
		batch.PutUndo.Created[i] = c.ID
	}

	if s.trackAccounts {
		if batch.Accounts, err = s.accountChanges(spent, created); err != nil {
			return err
		}
	}

	if err := s.backend.Write(batch); err != nil {
		return err
	}

	s.logger.Debugf("Committed block %s at height %d, spent %d, created %d", blockHash, height, len(spent), len(created))
	return nil
}

// Revert undoes the tip block, restoring the previous tip.
func (s *Store) Revert(blockHash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tip, err := s.backend.Tip()
	if err != nil {
		return err
	}
	if !tip.Set || tip.Hash != blockHash {
		return errors.NewInvalidArgumentError("can only revert the tip %s, not %s", tip.Hash, blockHash)
	}

	undo, err := s.backend.Undo(blockHash)
	if err != nil {
		return err
	}

	batch := &Batch{
		Deletes:    undo.Created,
		Puts:       make([]Entry, len(undo.Spent)),
		UndoHash:   blockHash,
		DeleteUndo: true,
		Tip:        undo.PrevTip,
	}
	for i, sp := range undo.Spent {
		batch.Puts[i] = Entry{ID: sp.ID, Output: sp.Output}
	}

	if s.trackAccounts {
		created := make([]Entry, 0, len(undo.Created))
		for _, id := range undo.Created {
			out, err := s.backend.Get(id)
			if err != nil {
				return err
			}
			if out != nil {
				created = append(created, Entry{ID: id, Output: *out})
			}
		}
		// Reverting swaps roles: restored outputs are credited, removed ones debited.
		restored := make([]Entry, len(undo.Spent))
		for i, sp := range undo.Spent {
			restored[i] = Entry{ID: sp.ID, Output: sp.Output}
		}
		removed := make([]SpentOutput, len(created))
		for i, c := range created {
			removed[i] = SpentOutput{ID: c.ID, Output: c.Output}
		}
		if batch.Accounts, err = s.accountChanges(removed, restored); err != nil {
			return err
		}
	}

	if err := s.backend.Write(batch); err != nil {
		return err
	}

	s.logger.Debugf("Reverted block %s, tip now %s at height %d", blockHash, undo.PrevTip.Hash, undo.PrevTip.Height)
	return nil
}

// accountChanges computes the new balance of every address touched by debits and
// credits of pay-to-pubkey outputs.
func (s *Store) accountChanges(debits []SpentOutput, credits []Entry) (map[common.Address]*uint256.Int, error) {
	balances := make(map[common.Address]*uint256.Int)
	load := func(script []byte) (*uint256.Int, common.Address, bool, error) {
		pub, ok := types.ExtractPubKey(script)
		if !ok {
			return nil, common.Address{}, false, nil
		}
		addr, err := crypto.PubKeyToAevumAddress(pub)
		if err != nil {
			// Keys that are not on the curve can hold outputs but have no account.
			return nil, common.Address{}, false, nil
		}
		bal, ok := balances[addr]
		if !ok {
			if bal, err = s.backend.Balance(addr); err != nil {
				return nil, addr, false, err
			}
			balances[addr] = bal
		}
		return bal, addr, true, nil
	}

	for _, c := range credits {
		bal, _, ok, err := load(c.Output.Script)
		if err != nil {
			return nil, err
		}
		if ok {
			bal.Add(bal, uint256.NewInt(c.Output.Value))
		}
	}
	for _, d := range debits {
		bal, addr, ok, err := load(d.Output.Script)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		amount := uint256.NewInt(d.Output.Value)
		if bal.Lt(amount) {
			return nil, errors.NewStorageError("balance of %s below spent output %s", addr.Hex(), d.ID)
		}
		bal.Sub(bal, amount)
	}
	return balances, nil
}

// Entries returns the whole UTXO set ordered by key.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []Entry
	err := s.backend.ForEach(func(id types.UtxoId, out *types.Output) error {
		entries = append(entries, Entry{ID: id, Output: *out})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return bytes.Compare(a.ID.Key(), b.ID.Key())
	})
	return entries, nil
}

// Digest is a hash over the ordered UTXO set. Two stores hold the same set exactly
// when their digests match.
func (s *Store) Digest() (types.Hash, error) {
	entries, err := s.Entries()
	if err != nil {
		return types.ZeroHash, err
	}

	var buf bytes.Buffer
	for _, e := range entries {
		buf.Write(e.ID.Key())
		buf.Write(outputBytes(e.Output))
	}
	return types.DoubleHash(buf.Bytes()), nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

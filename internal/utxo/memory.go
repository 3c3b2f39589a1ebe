package utxo

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/holiman/uint256"
)

type MemoryBackend struct {
	mu       sync.RWMutex
	utxos    map[types.UtxoId]types.Output
	undo     map[types.Hash]*UndoRecord
	accounts map[common.Address]*uint256.Int
	tip      TipMeta
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		utxos:    make(map[types.UtxoId]types.Output),
		undo:     make(map[types.Hash]*UndoRecord),
		accounts: make(map[common.Address]*uint256.Int),
	}
}

func (m *MemoryBackend) Get(id types.UtxoId) (*types.Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out, ok := m.utxos[id]
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (m *MemoryBackend) Balance(addr common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.accounts[addr]; ok {
		return bal.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (m *MemoryBackend) Undo(blockHash types.Hash) (*UndoRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.undo[blockHash]
	if !ok {
		return nil, errors.NewNotFoundError("undo record for block %s", blockHash)
	}
	return u, nil
}

func (m *MemoryBackend) Tip() (TipMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tip, nil
}

func (m *MemoryBackend) Write(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range b.Deletes {
		delete(m.utxos, id)
	}
	for _, e := range b.Puts {
		m.utxos[e.ID] = e.Output
	}
	for addr, bal := range b.Accounts {
		if bal.IsZero() {
			delete(m.accounts, addr)
			continue
		}
		m.accounts[addr] = bal.Clone()
	}
	if b.PutUndo != nil {
		m.undo[b.UndoHash] = b.PutUndo
	}
	if b.DeleteUndo {
		delete(m.undo, b.UndoHash)
	}
	m.tip = b.Tip
	return nil
}

func (m *MemoryBackend) ForEach(fn func(id types.UtxoId, out *types.Output) error) error {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.utxos))
	for id, out := range m.utxos {
		entries = append(entries, Entry{ID: id, Output: out})
	}
	m.mu.RUnlock()

	for i := range entries {
		if err := fn(entries[i].ID, &entries[i].Output); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

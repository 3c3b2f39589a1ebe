package utxo

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/holiman/uint256"
)

// Entry is an output together with its key.
type Entry struct {
	ID     types.UtxoId
	Output types.Output
}

// Batch is one atomic write: a block commit or a block revert.
type Batch struct {
	Deletes    []types.UtxoId
	Puts       []Entry
	Accounts   map[common.Address]*uint256.Int
	UndoHash   types.Hash
	PutUndo    *UndoRecord
	DeleteUndo bool
	Tip        TipMeta
}

// Backend persists the UTXO set, undo records, account balances and the tip.
// Write must apply a batch entirely or not at all.
type Backend interface {
	Get(id types.UtxoId) (*types.Output, error)
	Balance(addr common.Address) (*uint256.Int, error)
	Undo(blockHash types.Hash) (*UndoRecord, error)
	Tip() (TipMeta, error)
	Write(b *Batch) error
	ForEach(fn func(id types.UtxoId, out *types.Output) error) error
	Close() error
}

package utxo

import (
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

// Source is a read-only view of the spendable output set. Get returns nil without
// error when the output does not exist.
type Source interface {
	Get(id types.UtxoId) (*types.Output, error)
}

// Stage records spends and creations on top of a parent view without touching it.
// A stage is either committed as a whole through Store.Commit or discarded. After a
// failed ApplyTx the stage holds partial effects and must be discarded.
type Stage struct {
	parent Source

	spent      map[types.UtxoId]types.Output
	spentOrder []types.UtxoId

	created      map[types.UtxoId]types.Output
	createdOrder []types.UtxoId
}

func NewStage(parent Source) *Stage {
	return &Stage{
		parent:  parent,
		spent:   make(map[types.UtxoId]types.Output),
		created: make(map[types.UtxoId]types.Output),
	}
}

func (s *Stage) Get(id types.UtxoId) (*types.Output, error) {
	if out, ok := s.created[id]; ok {
		return &out, nil
	}
	if _, ok := s.spent[id]; ok {
		return nil, nil
	}
	return s.parent.Get(id)
}

// Spend consumes an output of the parent view. Outputs created in this stage are
// not spendable: inputs must reference state that existed before the stage.
func (s *Stage) Spend(id types.UtxoId) (types.Output, error) {
	if _, ok := s.spent[id]; ok {
		return types.Output{}, errors.NewTxDoubleSpendError("output %s spent twice", id)
	}
	if _, ok := s.created[id]; ok {
		return types.Output{}, errors.NewTxMissingInputsError("output %s is not in the parent state", id)
	}

	out, err := s.parent.Get(id)
	if err != nil {
		return types.Output{}, err
	}
	if out == nil {
		return types.Output{}, errors.NewTxMissingInputsError("output %s not found", id)
	}

	s.spent[id] = *out
	s.spentOrder = append(s.spentOrder, id)
	return *out, nil
}

// Create adds an output. An id that already exists in the view, or existed in the
// parent and was spent here, is a conflict; claim markers report it as a double claim.
func (s *Stage) Create(id types.UtxoId, out types.Output) error {
	exists := false
	if _, ok := s.created[id]; ok {
		exists = true
	} else if _, ok := s.spent[id]; ok {
		exists = true
	} else {
		prev, err := s.parent.Get(id)
		if err != nil {
			return err
		}
		exists = prev != nil
	}

	if exists {
		if id.Index == types.ClaimIndex {
			return errors.NewTxDoubleSpendError("transfer attempt %s already claimed", id.Hash)
		}
		return errors.NewTxAlreadyExistsError("output %s already exists", id)
	}

	s.created[id] = out
	s.createdOrder = append(s.createdOrder, id)
	return nil
}

// ApplyTx spends every input in order and creates every output plus the claim
// marker of mint and burn transactions. It returns the spent outputs.
func (s *Stage) ApplyTx(tx *types.Transaction) ([]types.Output, error) {
	spent := make([]types.Output, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		out, err := s.Spend(in.Prev)
		if err != nil {
			return nil, err
		}
		spent = append(spent, out)
	}

	hash := tx.Hash()
	for i, out := range tx.Outputs {
		if err := s.Create(types.NewUtxoId(hash, uint32(i)), out); err != nil {
			return nil, err
		}
	}

	if claim, ok := tx.ClaimID(); ok {
		marker := types.Output{Script: types.ClaimScript(tx.Bridge.TransferID, tx.Bridge.Attempt)}
		if err := s.Create(claim, marker); err != nil {
			return nil, err
		}
	}
	return spent, nil
}

func (s *Stage) Spent() []SpentOutput {
	res := make([]SpentOutput, len(s.spentOrder))
	for i, id := range s.spentOrder {
		res[i] = SpentOutput{ID: id, Output: s.spent[id]}
	}
	return res
}

func (s *Stage) Created() []Entry {
	res := make([]Entry, len(s.createdOrder))
	for i, id := range s.createdOrder {
		res[i] = Entry{ID: id, Output: s.created[id]}
	}
	return res
}

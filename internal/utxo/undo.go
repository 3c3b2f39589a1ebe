package utxo

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

// SpentOutput is an output consumed by a block, kept so the block can be reverted.
type SpentOutput struct {
	ID     types.UtxoId
	Output types.Output
}

// UndoRecord holds everything needed to revert one committed block.
type UndoRecord struct {
	PrevTip TipMeta
	Spent   []SpentOutput
	Created []types.UtxoId
}

type TipMeta struct {
	Hash   types.Hash
	Height uint64
	// Set is false before genesis is committed.
	Set bool
}

const maxUndoEntries = 1 << 20

func (u *UndoRecord) Serialize(w io.Writer) error {
	if err := writeTip(w, u.PrevTip); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(u.Spent))); err != nil {
		return err
	}
	for _, s := range u.Spent {
		if err := types.WriteUtxoId(w, s.ID); err != nil {
			return err
		}
		if err := types.WriteOutput(w, s.Output); err != nil {
			return err
		}
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(u.Created))); err != nil {
		return err
	}
	for _, id := range u.Created {
		if err := types.WriteUtxoId(w, id); err != nil {
			return err
		}
	}
	return nil
}

func (u *UndoRecord) Bytes() []byte {
	var buf bytes.Buffer
	_ = u.Serialize(&buf)
	return buf.Bytes()
}

func (u *UndoRecord) Deserialize(r io.Reader) error {
	tip, err := readTip(r)
	if err != nil {
		return err
	}
	u.PrevTip = tip

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxUndoEntries {
		return fmt.Errorf("undo record too large: %d spent", count)
	}
	u.Spent = make([]SpentOutput, count)
	for i := range u.Spent {
		if u.Spent[i].ID, err = types.ReadUtxoId(r); err != nil {
			return err
		}
		if u.Spent[i].Output, err = types.ReadOutput(r); err != nil {
			return err
		}
	}

	count, err = wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxUndoEntries {
		return fmt.Errorf("undo record too large: %d created", count)
	}
	u.Created = make([]types.UtxoId, count)
	for i := range u.Created {
		if u.Created[i], err = types.ReadUtxoId(r); err != nil {
			return err
		}
	}
	return nil
}

func undoFromBytes(raw []byte) (*UndoRecord, error) {
	u := &UndoRecord{}
	if err := u.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return u, nil
}

func writeTip(w io.Writer, t TipMeta) error {
	if _, err := w.Write(t.Hash[:]); err != nil {
		return err
	}
	set := byte(0)
	if t.Set {
		set = 1
	}
	if _, err := w.Write([]byte{set}); err != nil {
		return err
	}
	return wire.WriteVarInt(w, 0, t.Height)
}

func readTip(r io.Reader) (TipMeta, error) {
	var t TipMeta
	if _, err := io.ReadFull(r, t.Hash[:]); err != nil {
		return t, err
	}
	var set [1]byte
	if _, err := io.ReadFull(r, set[:]); err != nil {
		return t, err
	}
	t.Set = set[0] == 1
	height, err := wire.ReadVarInt(r, 0)
	t.Height = height
	return t, err
}

func tipBytes(t TipMeta) []byte {
	var buf bytes.Buffer
	_ = writeTip(&buf, t)
	return buf.Bytes()
}

func tipFromBytes(raw []byte) (TipMeta, error) {
	return readTip(bytes.NewReader(raw))
}

func outputBytes(out types.Output) []byte {
	var buf bytes.Buffer
	_ = types.WriteOutput(&buf, out)
	return buf.Bytes()
}

func outputFromBytes(raw []byte) (*types.Output, error) {
	out, err := types.ReadOutput(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

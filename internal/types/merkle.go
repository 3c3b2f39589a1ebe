package types

import (
	"crypto/sha256"
	"hash"
	"slices"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var sha256Pool = &sync.Pool{
	New: func() any {
		return sha256.New()
	},
}

func DoubleSHA256Sum(data []byte) []byte {
	h := sha256Pool.Get().(hash.Hash)
	defer sha256Pool.Put(h)

	h.Reset()
	_, _ = h.Write(data)

	buf := make([]byte, 0, 32)
	first := h.Sum(buf)

	h.Reset()
	_, _ = h.Write(first)
	return h.Sum(buf)
}

func ComputeParentNode(left, right Hash) Hash {
	var parent Hash
	copy(parent[:], DoubleSHA256Sum(append(append(make([]byte, 0, len(left)+len(right)), left[:]...), right[:]...)))
	return parent
}

// ComputeMerkleRoot returns the root over txhs, duplicating the last node of odd levels.
// The root of an empty list is the zero hash.
func ComputeMerkleRoot(txhs []Hash) Hash {
	if len(txhs) == 0 {
		return ZeroHash
	}

	level := slices.Clone(txhs)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		parents := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			parents = append(parents, ComputeParentNode(level[i], level[i+1]))
		}
		level = parents
	}

	return level[0]
}

// ComputeMerkleRootAndProof returns the root and the sibling path of the leaf at txIndex.
func ComputeMerkleRootAndProof(txhs []Hash, txIndex int) (Hash, []Hash) {
	if len(txhs) == 0 {
		return ZeroHash, nil
	}

	var proof []Hash
	level := slices.Clone(txhs)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		if txIndex%2 == 0 {
			proof = append(proof, level[txIndex+1])
		} else {
			proof = append(proof, level[txIndex-1])
		}

		parents := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			parents = append(parents, ComputeParentNode(level[i], level[i+1]))
		}
		level = parents
		txIndex /= 2
	}

	return level[0], proof
}

func VerifyProof(txid, root Hash, txIndex int, path []Hash) bool {
	current := txid
	for _, sibling := range path {
		if txIndex&1 == 0 {
			current = ComputeParentNode(current, sibling)
		} else {
			current = ComputeParentNode(sibling, current)
		}
		txIndex >>= 1
	}

	return current.IsEqual(&root)
}

// BlockMerkleRoot computes the merkle root over the hashes of txs in block order.
func BlockMerkleRoot(txs []*Transaction) Hash {
	hashes := make([]Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	return ComputeMerkleRoot(hashes)
}

// DoubleHash is chainhash.DoubleHashH under the package's Hash name.
func DoubleHash(b []byte) Hash {
	return chainhash.DoubleHashH(b)
}

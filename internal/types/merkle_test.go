package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafHashes(n int) []Hash {
	hashes := make([]Hash, n)
	for i := range hashes {
		hashes[i] = DoubleHash([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return hashes
}

func TestComputeMerkleRoot(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, ZeroHash, ComputeMerkleRoot(nil))
	})

	t.Run("single leaf is the root", func(t *testing.T) {
		leaves := leafHashes(1)
		assert.Equal(t, leaves[0], ComputeMerkleRoot(leaves))
	})

	t.Run("two leaves", func(t *testing.T) {
		leaves := leafHashes(2)
		assert.Equal(t, ComputeParentNode(leaves[0], leaves[1]), ComputeMerkleRoot(leaves))
	})

	t.Run("odd level duplicates last node", func(t *testing.T) {
		leaves := leafHashes(3)
		left := ComputeParentNode(leaves[0], leaves[1])
		right := ComputeParentNode(leaves[2], leaves[2])
		assert.Equal(t, ComputeParentNode(left, right), ComputeMerkleRoot(leaves))
	})

	t.Run("input not mutated", func(t *testing.T) {
		leaves := leafHashes(5)
		before := append([]Hash(nil), leaves...)
		ComputeMerkleRoot(leaves)
		assert.Equal(t, before, leaves)
	})
}

func TestMerkleProof(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 8, 13} {
		leaves := leafHashes(n)
		root := ComputeMerkleRoot(leaves)

		for idx := 0; idx < n; idx++ {
			t.Run(fmt.Sprintf("n=%d/idx=%d", n, idx), func(t *testing.T) {
				proofRoot, path := ComputeMerkleRootAndProof(leaves, idx)
				require.Equal(t, root, proofRoot)
				assert.True(t, VerifyProof(leaves[idx], root, idx, path))

				if n > 1 {
					assert.False(t, VerifyProof(leaves[(idx+1)%n], root, idx, path))
				}
			})
		}
	}
}

func TestBlockMerkleRootChangesWithOrder(t *testing.T) {
	a := NewCoinbase(1, Output{Value: 50, Script: []byte{0x01}})
	b := NewCoinbase(2, Output{Value: 50, Script: []byte{0x01}})

	assert.NotEqual(t, BlockMerkleRoot([]*Transaction{a, b}), BlockMerkleRoot([]*Transaction{b, a}))
}

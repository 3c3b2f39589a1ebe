package chain

import (
	"math/big"

	"github.com/goatnetwork/bond-aevum/internal/types"
)

// NodeStatus tracks how far a known block has been validated.
type NodeStatus int

const (
	// NodeStored blocks passed structure and header checks only.
	NodeStored NodeStatus = iota
	// NodeConnected blocks were fully validated and applied at least once.
	NodeConnected
	NodeInvalid
)

func (s NodeStatus) String() string {
	return [...]string{"stored", "connected", "invalid"}[s]
}

type blockNode struct {
	hash   types.Hash
	block  *types.Block
	parent *blockNode
	height uint64
	// score is the cumulative fork-choice score of the branch ending here.
	score  *big.Int
	seq    uint64
	status NodeStatus
}

func (n *blockNode) header() *types.Header {
	return &n.block.Header
}

func (n *blockNode) tip() types.ChainTip {
	return types.ChainTip{Hash: n.hash, Height: n.height, Score: new(big.Int).Set(n.score)}
}

// betterThan is the fork-choice order: higher score wins, equal scores go to the
// block seen first.
func (n *blockNode) betterThan(other *blockNode) bool {
	if c := n.score.Cmp(other.score); c != 0 {
		return c > 0
	}
	return n.seq < other.seq
}

// ancestor returns the node on n's branch at height, or nil.
func (n *blockNode) ancestor(height uint64) *blockNode {
	if height > n.height {
		return nil
	}
	node := n
	for node != nil && node.height > height {
		node = node.parent
	}
	return node
}

// arena owns every known block node. tips are the nodes without children; best is
// the canonical tip. Access is guarded by the chain lock.
type arena struct {
	nodes map[types.Hash]*blockNode
	tips  map[types.Hash]*blockNode
	best  *blockNode
	seq   uint64
}

func newArena() *arena {
	return &arena{
		nodes: make(map[types.Hash]*blockNode),
		tips:  make(map[types.Hash]*blockNode),
	}
}

func (a *arena) get(hash types.Hash) *blockNode {
	return a.nodes[hash]
}

// nextSeq hands out first-seen sequence numbers.
func (a *arena) nextSeq() uint64 {
	a.seq++
	return a.seq
}

func (a *arena) add(n *blockNode) {
	if n.seq > a.seq {
		a.seq = n.seq
	}
	a.nodes[n.hash] = n
	if n.parent != nil {
		delete(a.tips, n.parent.hash)
	}
	a.tips[n.hash] = n
}

// window returns up to size headers ending at n, oldest first.
func (a *arena) window(n *blockNode, size int) []*types.Header {
	if size < 1 {
		size = 1
	}
	res := make([]*types.Header, 0, size)
	for node := n; node != nil && len(res) < size; node = node.parent {
		res = append(res, node.header())
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res
}

// fork returns the last common ancestor of a and b.
func fork(a, b *blockNode) *blockNode {
	if a.height > b.height {
		a = a.ancestor(b.height)
	} else {
		b = b.ancestor(a.height)
	}
	for a != b {
		a, b = a.parent, b.parent
	}
	return a
}

// branch returns the nodes after ancestor up to and including n, oldest first.
func branch(ancestor, n *blockNode) []*blockNode {
	res := make([]*blockNode, 0, n.height-ancestor.height)
	for node := n; node != ancestor; node = node.parent {
		res = append(res, node)
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res
}

// markInvalid marks n and every known descendant invalid and returns them.
func (a *arena) markInvalid(n *blockNode) []*blockNode {
	var res []*blockNode
	for _, node := range a.nodes {
		if node.height < n.height || node.status == NodeInvalid {
			continue
		}
		if node.ancestor(n.height) == n {
			node.status = NodeInvalid
			res = append(res, node)
		}
	}
	return res
}

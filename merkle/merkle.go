// Package merkle implements the distribution verifier for batch sale
// settlement. The platform publishes a single root committing to a set of
// (investor, amount) pairs; individual claims present an inclusion proof
// against it. Two independent roots exist per sale: one for final token
// claim amounts and one for accepted capital.
package merkle

import (
	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
)

// Proof is a sibling path from a leaf to the root. Bit i of Index is set
// when the node at level i is a right child.
type Proof struct {
	Siblings []crypto.Hash `json:"siblings"`
	Index    uint64        `json:"index"`
}

// Leaf computes the leaf commitment for an (investor, amount) pair.
// The encoded pair is hashed twice; the outer hash separates leaves from
// interior nodes so a proof fragment can never be replayed as a leaf.
func Leaf(investor crypto.PublicKey, amount *uint256.Int) crypto.Hash {
	amt := amount.Bytes32()
	inner := crypto.Sum256(investor.Bytes(), amt[:])
	return crypto.Sum256(inner.Bytes())
}

// VerifyProof checks that leaf is a member of the set committed to by
// root, walking the sibling path bottom-up.
func VerifyProof(leaf crypto.Hash, proof Proof, root crypto.Hash) bool {
	node := leaf
	idx := proof.Index
	for _, sibling := range proof.Siblings {
		if idx&1 == 1 {
			node = hashPair(sibling, node)
		} else {
			node = hashPair(node, sibling)
		}
		idx >>= 1
	}
	return node == root
}

// Entry is one (investor, amount) pair in a published distribution.
type Entry struct {
	Investor crypto.PublicKey
	Amount   *uint256.Int
}

// Tree is a full merkle tree over a distribution set. The engine only
// ever verifies proofs; building the tree is the off-chain backend's job
// and this constructor exists for tests and tooling.
type Tree struct {
	root   crypto.Hash
	layers [][]crypto.Hash
}

// BuildTree constructs a tree over the given entries, in order.
// Odd layers duplicate their last node.
func BuildTree(entries []Entry) *Tree {
	if len(entries) == 0 {
		return &Tree{}
	}

	layer := make([]crypto.Hash, len(entries))
	for i, e := range entries {
		layer[i] = Leaf(e.Investor, e.Amount)
	}

	layers := [][]crypto.Hash{layer}
	for len(layer) > 1 {
		next := make([]crypto.Hash, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		layer = next
		layers = append(layers, layer)
	}

	return &Tree{root: layer[0], layers: layers}
}

// Root returns the tree's root commitment.
func (t *Tree) Root() crypto.Hash {
	return t.root
}

// ProofFor returns the inclusion proof for the leaf at the given index.
func (t *Tree) ProofFor(leafIdx int) Proof {
	proof := Proof{Index: uint64(leafIdx)}
	idx := leafIdx
	for level := 0; level < len(t.layers)-1; level++ {
		row := t.layers[level]
		siblingIdx := idx ^ 1
		if siblingIdx >= len(row) {
			siblingIdx = idx // duplicated last node
		}
		proof.Siblings = append(proof.Siblings, row[siblingIdx])
		idx /= 2
	}
	return proof
}

func hashPair(left, right crypto.Hash) crypto.Hash {
	return crypto.Sum256(left.Bytes(), right.Bytes())
}

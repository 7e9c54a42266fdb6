// Package mmr implements the position arithmetic and hashing rule for a
// Merkle Mountain Range: an append-only binary forest in which postorder
// traversal order is identical to append order.
//
// # Approach
//
// The layout and the navigation primitives follow the mimblewimble rust
// implementation's description of pmmr (see
// https://github.com/mimblewimble/grin/blob/master/core/src/core/pmmr.rs).
// In summary:
//
//   - The post order traversal (children first, left to right) of the MMR
//     is identical to the natural append order of MMR nodes.
//   - From any position we can navigate the tree using plain binary
//     arithmetic — the distance to jump is always a power of two — so we
//     never need to materialize the tree, or any part of it, to work with it.
//   - Height is recovered from a one-based position by repeatedly
//     subtracting the largest "all ones" (perfect-tree) prefix that fits
//     under it, until the remainder is itself all ones; the bit length of
//     that remainder, minus one, is the height.
//
// Positions are zero-indexed in postorder, as required by the network
// protocol this package serves: position 0 is the first leaf appended,
// position 2 is the parent of positions 0 and 1, and so on.
//
//	3            14
//	           /    \
//	          /      \
//	         /        \
//	2       6          13
//	      /   \       /   \
//	1    2     5     9     12      17
//	    / \  /  \   / \   /  \    /  \
//	0  0   1 3   4 7   8 10   11 15   16
//
// # Hashing rule
//
// Every node's hash commits to its own position, which defeats
// second-preimage attacks across MMRs of different sizes: a leaf hash at
// position 4 in one MMR can never be replayed as the hash of position 4 in
// another, different-shaped MMR, because the position itself is folded into
// the hash. Positions are fed to the hasher as big-endian uint64 — this
// encoding is consensus-observable and must never change.
package mmr

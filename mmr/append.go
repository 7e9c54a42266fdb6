package mmr

// HashStore is the minimal append-only node storage that AppendLeaf needs.
// filestore.HashFile satisfies it; tests and KernelMMR/PMMR callers may also
// use a plain in-memory slice.
type HashStore interface {
	Size() uint64
	Append(hash []byte) (uint64, error)
	Get(pos uint64) ([]byte, error)
}

// AppendLeaf adds a single hashed leaf to store and back-fills every parent
// node it completes along its right spine, using hasher for the
// position-committing hash rule. It returns the position of the last node
// written — either the leaf itself, if no parent was completed, or the
// highest parent the leaf's addition completed.
//
// Because the MMR is a pure function of position, this works no matter how
// many peaks already exist: whenever the position immediately following
// the one just written would sit higher in the tree, that next position is
// a parent this append has just completed, and it gets its turn.
func AppendLeaf(store HashStore, hasher *Hasher, leafHash []byte) (uint64, error) {
	pos, err := store.Append(leafHash)
	if err != nil {
		return 0, err
	}

	height := uint64(0)
	for Height(pos+1) > height {
		parent := pos + 1
		left := parent - (uint64(1) << (height + 1))
		right := pos

		leftHash, err := store.Get(left)
		if err != nil {
			return 0, err
		}
		rightHash, err := store.Get(right)
		if err != nil {
			return 0, err
		}

		parentHash := hasher.HashParent(parent, leftHash, rightHash)
		pos, err = store.Append(parentHash)
		if err != nil {
			return 0, err
		}
		height++
	}
	return pos, nil
}

// Root recomputes the bagged root of store at the given size.
func Root(store HashStore, hasher *Hasher, size uint64) ([]byte, error) {
	peaks := Peaks(size)
	peakHashes := make([][]byte, 0, len(peaks))
	for _, p := range peaks {
		v, err := store.Get(p)
		if err != nil {
			return nil, err
		}
		peakHashes = append(peakHashes, v)
	}
	return hasher.BagPeaks(size, peakHashes), nil
}

package mmr

import "testing"

func TestHeight(t *testing.T) {
	tests := []struct {
		pos  uint64
		want uint64
	}{
		{0, 0}, {1, 0}, {2, 1}, {3, 0}, {4, 0}, {5, 1}, {6, 2},
		{7, 0}, {8, 0}, {9, 1}, {10, 0},
	}
	for _, tt := range tests {
		if got := Height(tt.pos); got != tt.want {
			t.Errorf("Height(%d) = %d, want %d", tt.pos, got, tt.want)
		}
	}
}

func TestPeaks(t *testing.T) {
	tests := []struct {
		name string
		size uint64
		want []uint64
	}{
		{"empty", 0, nil},
		{"single leaf", 1, []uint64{0}},
		{"three leaves", 4, []uint64{2, 3}},
		{"invalid size: dangling sibling", 2, nil},
		{"three nodes, one peak", 3, []uint64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Peaks(tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("Peaks(%d) = %v, want %v", tt.size, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Peaks(%d)[%d] = %d, want %d", tt.size, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLeafToPosRoundTrip(t *testing.T) {
	for l := uint64(0); l < 500; l++ {
		pos := LeafToPos(l)
		if Height(pos) != 0 {
			t.Fatalf("LeafToPos(%d) = %d has height %d, want 0", l, pos, Height(pos))
		}
		if got := PosToLeaf(pos); got != l {
			t.Fatalf("PosToLeaf(LeafToPos(%d)) = %d, want %d", l, got, l)
		}
	}
}

func TestLeafToPosKnownValues(t *testing.T) {
	tests := []struct {
		leaf uint64
		pos  uint64
	}{
		{0, 0}, {1, 1}, {2, 3}, {3, 4}, {4, 7}, {5, 8}, {6, 10}, {7, 11},
	}
	for _, tt := range tests {
		if got := LeafToPos(tt.leaf); got != tt.pos {
			t.Errorf("LeafToPos(%d) = %d, want %d", tt.leaf, got, tt.pos)
		}
	}
}

func TestParentChildRoundTrip(t *testing.T) {
	for p := uint64(0); p < 500; p++ {
		left, ok := LeftChild(p)
		if !ok {
			continue
		}
		right, _ := RightChild(p)
		if Parent(left) != p || Parent(right) != p {
			t.Fatalf("position %d: children %d,%d do not round-trip through Parent", p, left, right)
		}
		if Sibling(left) != right || Sibling(right) != left {
			t.Fatalf("position %d: children %d,%d are not siblings of each other", p, left, right)
		}
	}
}

func TestFamilyBranchTerminatesAtPeak(t *testing.T) {
	size := uint64(4) // positions {0,1,2,3}, peaks {2,3}
	if branch := FamilyBranch(2, size); branch != nil {
		t.Errorf("FamilyBranch(2, 4) = %v, want nil (2 is a peak)", branch)
	}
	if branch := FamilyBranch(3, size); branch != nil {
		t.Errorf("FamilyBranch(3, 4) = %v, want nil (3 is a peak)", branch)
	}
	branch := FamilyBranch(0, size)
	if len(branch) != 1 || branch[0] != 1 {
		t.Errorf("FamilyBranch(0, 4) = %v, want [1]", branch)
	}
}

func TestNLeaves(t *testing.T) {
	tests := []struct {
		size uint64
		want uint64
	}{
		{0, 0}, {1, 1}, {3, 2}, {4, 3}, {7, 4},
	}
	for _, tt := range tests {
		if got := NLeaves(tt.size); got != tt.want {
			t.Errorf("NLeaves(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

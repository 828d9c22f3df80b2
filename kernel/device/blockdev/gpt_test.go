package blockdev

import "testing"

func TestIsNullGUID(t *testing.T) {
	if !isNullGUID([16]byte{}) {
		t.Errorf("expected the all-zero GUID to be null")
	}
	g := [16]byte{1}
	if isNullGUID(g) {
		t.Errorf("expected a non-zero GUID to not be null")
	}
}

func TestPartitionDiskBoundsRejectsOutOfRange(t *testing.T) {
	pd := NewPartitionDisk(nil, Partition{StartLBA: 100, EndLBA: 199})

	if !pd.bounds(0, 1) {
		t.Errorf("expected the first sector of the partition to be in bounds")
	}
	if !pd.bounds(99, 1) {
		t.Errorf("expected the last sector of the partition to be in bounds")
	}
	if pd.bounds(100, 1) {
		t.Errorf("expected one sector past the partition's end to be out of bounds")
	}
	if pd.bounds(0, 101) {
		t.Errorf("expected a read spanning past the partition's end to be out of bounds")
	}
}

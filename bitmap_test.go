package teasafe

import (
	"errors"
	"testing"
)

func TestVolumeBitmapIsBlockInUseDefaultsFalse(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 64)
	for i := uint64(0); i < sb.TotalBlocks; i++ {
		used, err := bitmap.IsBlockInUse(i)
		if err != nil {
			t.Fatalf("IsBlockInUse(%d): %v", i, err)
		}
		if used {
			t.Fatalf("block %d reported in use on a freshly formatted image", i)
		}
	}
	_ = stream
}

func TestVolumeBitmapSetAndQuery(t *testing.T) {
	_, _, _, bitmap := openTestVolume(t, 64)

	if err := bitmap.SetBlockInUse(5, true); err != nil {
		t.Fatalf("SetBlockInUse: %v", err)
	}
	used, err := bitmap.IsBlockInUse(5)
	if err != nil {
		t.Fatalf("IsBlockInUse: %v", err)
	}
	if !used {
		t.Fatal("expected block 5 to be in use")
	}

	// Neighbours must be untouched by the read-modify-write.
	for _, i := range []uint64{4, 6} {
		used, err := bitmap.IsBlockInUse(i)
		if err != nil {
			t.Fatalf("IsBlockInUse(%d): %v", i, err)
		}
		if used {
			t.Fatalf("block %d unexpectedly marked in use", i)
		}
	}

	if err := bitmap.Free(5); err != nil {
		t.Fatalf("Free: %v", err)
	}
	used, err = bitmap.IsBlockInUse(5)
	if err != nil {
		t.Fatalf("IsBlockInUse after Free: %v", err)
	}
	if used {
		t.Fatal("expected block 5 to be free after Free")
	}
}

func TestVolumeBitmapAllocateFirstFit(t *testing.T) {
	_, _, _, bitmap := openTestVolume(t, 16)

	idx, err := bitmap.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if idx != 0 {
		t.Fatalf("Allocate() = %d, want 0 (first-fit)", idx)
	}

	idx2, err := bitmap.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if idx2 != 1 {
		t.Fatalf("Allocate() = %d, want 1", idx2)
	}

	if err := bitmap.Free(0); err != nil {
		t.Fatalf("Free: %v", err)
	}
	idx3, err := bitmap.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if idx3 != 0 {
		t.Fatalf("Allocate() after freeing 0 = %d, want 0", idx3)
	}
}

func TestVolumeBitmapAllocateExhaustion(t *testing.T) {
	_, sb, _, bitmap := openTestVolume(t, 4)

	for i := uint64(0); i < sb.TotalBlocks; i++ {
		if _, err := bitmap.Allocate(); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}

	if _, err := bitmap.Allocate(); !errors.Is(err, ErrNoFreeBlock) || !IsAllocationError(err) {
		t.Fatalf("Allocate on full bitmap = %v, want AllocationError wrapping ErrNoFreeBlock", err)
	}
}

func TestVolumeBitmapOutOfRange(t *testing.T) {
	_, sb, _, bitmap := openTestVolume(t, 8)

	if _, err := bitmap.IsBlockInUse(sb.TotalBlocks); !IsValidationError(err) {
		t.Fatalf("IsBlockInUse(out of range) = %v, want ValidationError", err)
	}
	if err := bitmap.SetBlockInUse(sb.TotalBlocks+10, true); !IsValidationError(err) {
		t.Fatalf("SetBlockInUse(out of range) = %v, want ValidationError", err)
	}
}

package teasafe

import (
	log "github.com/sirupsen/logrus"
)

// VolumeBitmap tracks block allocation state: a flat bit array of length
// T, bit i set iff block i is in use, MSB-first within each byte. There
// is no in-memory cache and no cross-operation locking — every call here
// opens its own read (and, for mutation, read-modify-write) against the
// image stream.
type VolumeBitmap struct {
	stream *ImageStream
	sb     *Superblock
}

// NewVolumeBitmap wraps stream with bitmap operations scoped to sb's
// layout.
func NewVolumeBitmap(stream *ImageStream, sb *Superblock) *VolumeBitmap {
	return &VolumeBitmap{stream: stream, sb: sb}
}

// IsBlockInUse reads the single bitmap byte containing bit i and tests it.
func (b *VolumeBitmap) IsBlockInUse(i uint64) (bool, error) {
	if err := ValidateBlockIndex(i, b.sb.TotalBlocks); err != nil {
		return false, err
	}
	byteOff := b.sb.BitmapOffset() + int64(i/8)
	if _, err := b.stream.SeekG(byteOff, 0); err != nil {
		return false, err
	}
	buf := make([]byte, 1)
	if _, err := b.stream.Read(buf); err != nil {
		return false, err
	}
	return BitGet(buf, i%8), nil
}

// SetBlockInUse writes the single bit for block i.
func (b *VolumeBitmap) SetBlockInUse(i uint64, v bool) error {
	if err := ValidateBlockIndex(i, b.sb.TotalBlocks); err != nil {
		return err
	}
	byteOff := b.sb.BitmapOffset() + int64(i/8)

	// Read-modify-write: flipping one bit must not disturb its 7 siblings.
	if _, err := b.stream.SeekG(byteOff, 0); err != nil {
		return err
	}
	buf := make([]byte, 1)
	if _, err := b.stream.Read(buf); err != nil {
		return err
	}
	BitSet(buf, i%8, v)

	if _, err := b.stream.SeekP(byteOff, 0); err != nil {
		return err
	}
	_, err := b.stream.Write(buf)
	return err
}

// Allocate scans the bitmap for the first zero bit starting at index 0,
// sets it, and returns its index. Allocation policy is first-fit: scan
// monotonically, first zero bit wins, for predictability and locality on
// sequential appends.
func (b *VolumeBitmap) Allocate() (uint64, error) {
	const chunkBits = uint64(BlockSize * 8)
	total := b.sb.TotalBlocks

	for base := uint64(0); base < total; base += chunkBits {
		count := chunkBits
		if base+count > total {
			count = total - base
		}
		byteLen := BitmapByteLen(count)
		buf := make([]byte, byteLen)

		if _, err := b.stream.SeekG(b.sb.BitmapOffset()+int64(base/8), 0); err != nil {
			return 0, err
		}
		if _, err := b.stream.Read(buf); err != nil {
			return 0, err
		}

		for i := uint64(0); i < count; i++ {
			if !BitGet(buf, i) {
				idx := base + i
				if err := b.SetBlockInUse(idx, true); err != nil {
					return 0, err
				}
				return idx, nil
			}
		}
	}

	log.Warnf("teasafe: allocation failed, image has %d blocks and none are free", total)
	return 0, NewAllocationError(total, "no free block in image")
}

// Free clears the bit for block i. Block contents are not wiped; readers
// rely on payload_len and chain linkage, not on zeroed storage.
func (b *VolumeBitmap) Free(i uint64) error {
	return b.SetBlockInUse(i, false)
}

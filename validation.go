package teasafe

import "fmt"

// Input validation helpers, grounded on the same defensive-programming
// style as the rest of this package's error types.

// ValidateBuffer checks that buf is non-nil and at least minSize bytes.
func ValidateBuffer(buf []byte, name string, minSize int) error {
	if buf == nil {
		return NewValidationError(name, nil, "buffer cannot be nil")
	}
	if minSize > 0 && len(buf) < minSize {
		return NewValidationError(name, len(buf), fmt.Sprintf("buffer too small: got %d bytes, need at least %d bytes", len(buf), minSize))
	}
	return nil
}

// ValidateOffset checks that an image or block offset is non-negative.
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return NewValidationError(name, offset, "offset cannot be negative")
	}
	return nil
}

// ValidateBlockIndex checks that index is within [0, totalBlocks).
func ValidateBlockIndex(index, totalBlocks uint64) error {
	if index >= totalBlocks {
		return NewValidationError("index", index, fmt.Sprintf("block index %d out of range [0, %d)", index, totalBlocks))
	}
	return nil
}

// ValidatePayloadLen checks that n does not exceed a block's payload
// capacity.
func ValidatePayloadLen(n uint32) error {
	if n > FileBlockPayloadCap {
		return NewValidationError("payload_len", n, fmt.Sprintf("payload_len %d exceeds capacity %d", n, FileBlockPayloadCap))
	}
	return nil
}

// ValidateFilePath checks that path is non-empty.
func ValidateFilePath(path string) error {
	if path == "" {
		return NewValidationError("path", nil, "file path cannot be empty")
	}
	return nil
}

// ValidateTotalBlocks checks that a freshly formatted image would hold at
// least one block.
func ValidateTotalBlocks(totalBlocks uint64) error {
	if totalBlocks == 0 {
		return NewValidationError("totalBlocks", totalBlocks, "image must have at least one block")
	}
	return nil
}

// ValidateKey checks that key has the expected length for the active
// cipher.
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return NewValidationError("key", nil, "key cannot be nil")
	}
	if len(key) != expectedSize {
		return NewValidationError("key", len(key), fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize))
	}
	return nil
}

package teasafe

import (
	"path/filepath"
	"testing"
)

// newTestContext formats a fresh image with totalBlocks blocks under a
// per-test temp directory and returns a Context for it. Tests that need
// deterministic, fast key derivation pass a NullKeyProvider/CipherNull
// pair; tests exercising the real cipher path use a PasswordKeyProvider.
func newTestContext(t *testing.T, totalBlocks uint64, cipher CipherSuite, kp KeyProvider) *Context {
	t.Helper()
	dir := t.TempDir()
	ctx := NewContext(filepath.Join(dir, "image.tsf"), totalBlocks, cipher, kp)
	if err := Format(ctx, [4]uint64{1, 2, 3, 4}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return ctx
}

// openTestVolume formats and opens a fresh volume in one step, returning
// the pieces individually constructed components need.
func openTestVolume(t *testing.T, totalBlocks uint64) (*Context, *Superblock, *ImageStream, *VolumeBitmap) {
	t.Helper()
	ctx := newTestContext(t, totalBlocks, CipherNull, NullKeyProvider{})
	sb, stream, bitmap, err := OpenContext(ctx)
	if err != nil {
		t.Fatalf("OpenContext: %v", err)
	}
	t.Cleanup(func() { stream.Close() })
	return ctx, sb, stream, bitmap
}

// Package teasafe implements the block-level storage engine of an
// encrypted, single-file filesystem image.
//
// # Overview
//
// A TeaSafe image is an ordinary host file organized as a fixed grid of
// equal-size blocks: a superblock, a volume bitmap, and a block table.
// Files are composed from linked chains of blocks, and every byte that
// crosses the image boundary — payload or metadata — passes through a
// position-keyed stream cipher keyed from a password.
//
// # Supported cipher suites
//
//   - CipherStreamChaCha20: IETF ChaCha20 used as a raw position-addressable
//     keystream (not AEAD — this design is confidentiality-oriented only)
//   - CipherNull: identity transform, for tests and inspection tooling
//
// # Basic usage
//
//	kp := teasafe.NewPasswordKeyProvider([]byte("hunter2"), teasafe.DefaultArgon2idParams())
//	ctx := teasafe.NewContext("my.tea", 2048, teasafe.CipherStreamChaCha20, kp)
//
//	if err := teasafe.Format(ctx, [4]uint64{1, 2, 3, 4}); err != nil {
//	    log.Fatal(err)
//	}
//
//	sb, stream, bmp, err := teasafe.OpenContext(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
//
//	f := teasafe.OpenNewFile(stream, sb, bmp, "greeting.txt")
//	f.Write([]byte("hello"))
//	f.Flush()
//
// # Out of scope
//
// Directory/folder entry formats and caches, the command-line image
// builder, FUSE mount frontends, and password prompting are external
// collaborators. This package exposes only the contract they consume:
// Context, VolumeBitmap, FileBlock, and File.
package teasafe

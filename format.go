package teasafe

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Format creates a new image at ctx.ImagePath for ctx.TotalBlocks
// blocks: it writes the superblock, zeroes the bitmap, and
// pre-initializes every block with payload_len=0 and next_index=
// own_index. ivQuad are the cipher's public IV components; a fresh salt
// is generated by ctx.KeyProvider.
func Format(ctx *Context, ivQuad [4]uint64) error {
	if err := ValidateFilePath(ctx.ImagePath); err != nil {
		return err
	}
	if err := ValidateTotalBlocks(ctx.TotalBlocks); err != nil {
		return err
	}

	size := ImageSize(ctx.TotalBlocks)

	f, err := os.OpenFile(ctx.ImagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return NewIOError("create", 0, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return NewIOError("truncate", size, err)
	}
	if err := f.Close(); err != nil {
		return NewIOError("close", 0, err)
	}

	sb, err := NewSuperblock(ctx.TotalBlocks, ctx.Cipher, ivQuad, ctx.KeyProvider)
	if err != nil {
		return err
	}

	stream, err := OpenImageStream(ctx.ImagePath, NullByteTransformer{})
	if err != nil {
		return err
	}
	defer stream.Close()

	transformer, err := NewByteTransformer(ctx.Cipher, ctx.KeyProvider, sb.Params)
	if err != nil {
		return err
	}
	if st, ok := transformer.(*StreamByteTransformer); ok && ctx.Progress != nil {
		st.WithProgress(ctx.Progress)
	}
	if err := transformer.Init(); err != nil {
		return err
	}
	stream.SetTransformer(transformer)

	if err := sb.Write(stream); err != nil {
		return err
	}

	if err := zeroBitmap(stream, sb); err != nil {
		return err
	}

	log.Infof("teasafe: formatting %d blocks of %d bytes", ctx.TotalBlocks, BlockSize)
	for i := uint64(0); i < ctx.TotalBlocks; i++ {
		if _, err := NewFileBlockForWrite(stream, sb, i, i); err != nil {
			return err
		}
	}

	return stream.Flush()
}

// ImageSize returns the total on-disk size in bytes of an image holding
// totalBlocks blocks. The image is sized once at creation and never
// grows or shrinks afterward.
func ImageSize(totalBlocks uint64) int64 {
	sb := &Superblock{TotalBlocks: totalBlocks}
	return sb.BlockOffset(totalBlocks)
}

// zeroBitmap writes ⌈T/8⌉ zero bytes to the bitmap region, through the
// encrypting stream like every other metadata region.
func zeroBitmap(stream *ImageStream, sb *Superblock) error {
	zeros := make([]byte, sb.BitmapByteLen())
	if _, err := stream.SeekP(sb.BitmapOffset(), 0); err != nil {
		return err
	}
	_, err := stream.Write(zeros)
	return err
}

package teasafe

// Context is the shared, semantically immutable record carrying image
// path, total block count, and encryption parameters — created once and
// handed down to every component that needs to open the image stream.
// It mirrors the original engine's CoreTeaSafeIO, shared by value to
// file and directory constructors alike.
type Context struct {
	ImagePath   string
	TotalBlocks uint64
	Cipher      CipherSuite
	KeyProvider KeyProvider
	Progress    ProgressCallback
}

// NewContext builds a Context for a fresh or existing image. kp must
// already carry whatever password material it needs (a
// *PasswordKeyProvider constructed with the user's password, or a
// NullKeyProvider for CipherNull).
func NewContext(imagePath string, totalBlocks uint64, cipher CipherSuite, kp KeyProvider) *Context {
	return &Context{
		ImagePath:   imagePath,
		TotalBlocks: totalBlocks,
		Cipher:      cipher,
		KeyProvider: kp,
	}
}

// WithProgress attaches a progress callback forwarded to the key
// provider during cipher initialization.
func (c *Context) WithProgress(cb ProgressCallback) *Context {
	c.Progress = cb
	return c
}

// OpenContext opens the image at ctx.ImagePath, reads and validates its
// superblock, derives the cipher key, and returns a ready-to-use
// Superblock, ImageStream, and VolumeBitmap. The superblock's own
// recorded total block count and cipher suite take precedence over the
// values in ctx — they are read from disk, not trusted from the caller.
func OpenContext(ctx *Context) (*Superblock, *ImageStream, *VolumeBitmap, error) {
	if err := ValidateFilePath(ctx.ImagePath); err != nil {
		return nil, nil, nil, err
	}

	stream, err := OpenImageStream(ctx.ImagePath, NullByteTransformer{})
	if err != nil {
		return nil, nil, nil, err
	}

	cipher, params, err := ReadPublicHeader(stream)
	if err != nil {
		stream.Close()
		return nil, nil, nil, err
	}

	transformer, err := NewByteTransformer(cipher, ctx.KeyProvider, params)
	if err != nil {
		stream.Close()
		return nil, nil, nil, err
	}
	if st, ok := transformer.(*StreamByteTransformer); ok && ctx.Progress != nil {
		st.WithProgress(ctx.Progress)
	}
	if err := transformer.Init(); err != nil {
		stream.Close()
		return nil, nil, nil, err
	}
	stream.SetTransformer(transformer)

	sb, err := ReadSuperblock(stream)
	if err != nil {
		stream.Close()
		return nil, nil, nil, err
	}

	bitmap := NewVolumeBitmap(stream, sb)
	return sb, stream, bitmap, nil
}

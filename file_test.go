package teasafe

import (
	"bytes"
	"testing"
)

// bigPattern returns a deterministic byte pattern of length n.
func bigPattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

func TestFileSizeReportedCorrectly(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "test.txt")
	big := bigPattern(4*FileBlockPayloadCap + 37)
	if _, err := f.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if f.FileSize() != uint64(len(big)) {
		t.Fatalf("FileSize() = %d, want %d", f.FileSize(), len(big))
	}

	start := f.StartBlockIndex()
	reopened, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile: %v", err)
	}
	if reopened.FileSize() != uint64(len(big)) {
		t.Fatalf("reopened FileSize() = %d, want %d", reopened.FileSize(), len(big))
	}
}

func TestBlocksAllocatedAndChainTerminates(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "test.txt")
	big := bigPattern(4*FileBlockPayloadCap + 37)
	if _, err := f.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	start := f.StartBlockIndex()
	idx := start
	steps := 0
	maxSteps := (len(big)+FileBlockPayloadCap-1)/FileBlockPayloadCap + 1
	for {
		used, err := bitmap.IsBlockInUse(idx)
		if err != nil {
			t.Fatalf("IsBlockInUse(%d): %v", idx, err)
		}
		if !used {
			t.Fatalf("block %d in chain is not marked in use", idx)
		}
		fb, err := OpenFileBlock(stream, sb, idx)
		if err != nil {
			t.Fatalf("OpenFileBlock(%d): %v", idx, err)
		}
		steps++
		if fb.IsTerminal() {
			break
		}
		if steps > maxSteps {
			t.Fatalf("chain did not terminate within %d steps", maxSteps)
		}
		idx = fb.NextIndex()
	}
}

func TestUnlinkFreesBlocks(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "test.txt")
	big := bigPattern(4*FileBlockPayloadCap + 37)
	if _, err := f.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var chain []uint64
	idx := f.StartBlockIndex()
	for {
		chain = append(chain, idx)
		fb, err := OpenFileBlock(stream, sb, idx)
		if err != nil {
			t.Fatalf("OpenFileBlock: %v", err)
		}
		if fb.IsTerminal() {
			break
		}
		idx = fb.NextIndex()
	}

	if err := f.Unlink(); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if f.FileSize() != 0 {
		t.Fatalf("FileSize() after Unlink = %d, want 0", f.FileSize())
	}

	reopened, err := OpenExistingFile(stream, sb, bitmap, "test.txt", chain[0], ReadOnly)
	if err == nil && reopened.FileSize() != 0 {
		t.Fatalf("reopened FileSize() = %d, want 0", reopened.FileSize())
	}

	for _, i := range chain {
		used, err := bitmap.IsBlockInUse(i)
		if err != nil {
			t.Fatalf("IsBlockInUse(%d): %v", i, err)
		}
		if used {
			t.Fatalf("block %d still marked in use after Unlink", i)
		}
	}
}

func TestBigWriteFollowedBySmallAppend(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "test.txt")
	big := bigPattern(4*FileBlockPayloadCap + 37)
	if _, err := f.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	start := f.StartBlockIndex()

	appendFile, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadWriteAppend)
	if err != nil {
		t.Fatalf("OpenExistingFile (append): %v", err)
	}
	if _, err := appendFile.Write([]byte("appended!")); err != nil {
		t.Fatalf("Write (append): %v", err)
	}
	if err := appendFile.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := append(append([]byte{}, big...), []byte("appended!")...)

	reader, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile (read): %v", err)
	}
	got := make([]byte, len(want))
	n, err := readFull(reader, got)
	if err != nil {
		t.Fatalf("read full file: %v", err)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Fatalf("file contents mismatch after append")
	}
}

func TestSmallWriteThenBigAppend(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "small.txt")
	if _, err := f.Write([]byte("small string")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	start := f.StartBlockIndex()

	big := bigPattern(4*FileBlockPayloadCap + 37)
	appendFile, err := OpenExistingFile(stream, sb, bitmap, "small.txt", start, ReadWriteAppend)
	if err != nil {
		t.Fatalf("OpenExistingFile (append): %v", err)
	}
	if _, err := appendFile.Write(big); err != nil {
		t.Fatalf("Write (append): %v", err)
	}
	if err := appendFile.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := append([]byte("small string"), big...)

	reader, err := OpenExistingFile(stream, sb, bitmap, "small.txt", start, ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile (read): %v", err)
	}
	got := make([]byte, len(want))
	n, err := readFull(reader, got)
	if err != nil {
		t.Fatalf("read full file: %v", err)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Fatalf("file contents mismatch: small write then big append")
	}
}

func TestSeekAndRead(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 64)

	f := OpenNewFile(stream, sb, bitmap, "greeting.txt")
	if _, err := f.Write([]byte("Hello and goodbye!")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	start := f.StartBlockIndex()

	reader, err := OpenExistingFile(stream, sb, bitmap, "greeting.txt", start, ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile: %v", err)
	}
	if _, err := reader.Seek(10, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 8)
	n, err := reader.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 8 || string(buf) != "goodbye!" {
		t.Fatalf("Read() = %q, want %q", buf[:n], "goodbye!")
	}
}

func TestSeekToAppendedTail(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "test.txt")
	big := bigPattern(4*FileBlockPayloadCap + 37)
	if _, err := f.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	start := f.StartBlockIndex()

	appendFile, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadWriteAppend)
	if err != nil {
		t.Fatalf("OpenExistingFile (append): %v", err)
	}
	if _, err := appendFile.Write([]byte("appended!")); err != nil {
		t.Fatalf("Write (append): %v", err)
	}
	if err := appendFile.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reader, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile (read): %v", err)
	}
	if _, err := reader.Seek(int64(len(big)), 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 9)
	n, err := reader.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 9 || string(buf) != "appended!" {
		t.Fatalf("Read() = %q, want %q", buf[:n], "appended!")
	}
}

func TestTruncatePreservesPrefix(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "test.txt")
	big := bigPattern(4*FileBlockPayloadCap + 37)
	if _, err := f.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	start := f.StartBlockIndex()

	newSize := uint64(2*FileBlockPayloadCap + 5)
	if err := f.Truncate(newSize); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if f.FileSize() != newSize {
		t.Fatalf("FileSize() after Truncate = %d, want %d", f.FileSize(), newSize)
	}

	reader, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile: %v", err)
	}
	if reader.FileSize() != newSize {
		t.Fatalf("reopened FileSize() = %d, want %d", reader.FileSize(), newSize)
	}
	got := make([]byte, newSize)
	n, err := readFull(reader, got)
	if err != nil {
		t.Fatalf("read full file: %v", err)
	}
	if n != int(newSize) || !bytes.Equal(got, big[:newSize]) {
		t.Fatalf("truncate did not preserve the retained prefix")
	}
}

func TestOverwriteDispositionResetsToEmpty(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 2048)

	f := OpenNewFile(stream, sb, bitmap, "test.txt")
	big := bigPattern(4*FileBlockPayloadCap + 37)
	if _, err := f.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	start := f.StartBlockIndex()

	overwrite, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadWriteOverwrite)
	if err != nil {
		t.Fatalf("OpenExistingFile (overwrite): %v", err)
	}
	if overwrite.FileSize() != 0 {
		t.Fatalf("FileSize() immediately after overwrite-open = %d, want 0", overwrite.FileSize())
	}
	if _, err := overwrite.Write([]byte("fresh content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := overwrite.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reader, err := OpenExistingFile(stream, sb, bitmap, "test.txt", start, ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile (read): %v", err)
	}
	got := make([]byte, reader.FileSize())
	if _, err := readFull(reader, got); err != nil {
		t.Fatalf("read full file: %v", err)
	}
	if string(got) != "fresh content" {
		t.Fatalf("contents after overwrite = %q, want %q", got, "fresh content")
	}
}

func TestReadOnlyFileRejectsWrite(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 64)

	f := OpenNewFile(stream, sb, bitmap, "x.txt")
	if _, err := f.Write([]byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reader, err := OpenExistingFile(stream, sb, bitmap, "x.txt", f.StartBlockIndex(), ReadOnly)
	if err != nil {
		t.Fatalf("OpenExistingFile: %v", err)
	}
	if _, err := reader.Write([]byte("nope")); !IsValidationError(err) {
		t.Fatalf("Write on read-only file = %v, want ValidationError", err)
	}
}

func TestSizeUpdateCallbackFires(t *testing.T) {
	_, sb, stream, bitmap := openTestVolume(t, 64)

	f := OpenNewFile(stream, sb, bitmap, "cb.txt")
	var lastSize uint64
	calls := 0
	f.SetSizeUpdateCallback(func(n uint64) {
		calls++
		lastSize = n
	})

	if _, err := f.Write([]byte("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if calls == 0 {
		t.Fatal("expected the size-update callback to fire at least once")
	}
	if lastSize != 6 {
		t.Fatalf("last reported size = %d, want 6", lastSize)
	}
}

// readFull drains f until buf is full or EOF, like io.ReadFull.
func readFull(f *File, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		got, err := f.Read(buf[n:])
		n += got
		if err != nil {
			if got == 0 {
				return n, nil
			}
			continue
		}
		if got == 0 {
			break
		}
	}
	return n, nil
}

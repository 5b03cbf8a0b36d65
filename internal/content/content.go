// Package content stores streamed bodies as files on disk.
//
// A body is split into fixed-size blocks with boxo's size splitter and each
// block is written xz-compressed:
//
//	<Dir>/<keyspace>/<family>/<blockID>/<n>.xz
//
// The metadata returned by WriteBody carries what ReadBody needs to stream
// the body back, and is persisted on the content row by the storage client.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	boxochunker "github.com/ipfs/boxo/chunker"
	"github.com/ulikunitz/xz"

	"github.com/roach88/sparsemap/internal/storage"
)

// Metadata columns written by WriteBody.
const (
	MetaBlockID  = "blockId"
	MetaBlocks   = "blocks"
	MetaLength   = "length"
	MetaLocation = "bodyLocation"
)

// DefaultBlockSize is used when FileHelper.BlockSize is zero.
const DefaultBlockSize int64 = 256 * 1024

// FileHelper is a storage.ContentHelper backed by a directory tree.
type FileHelper struct {
	Dir       string
	BlockSize int64
	Logger    *slog.Logger
}

var _ storage.ContentHelper = (*FileHelper)(nil)

func (h *FileHelper) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *FileHelper) blockSize() int64 {
	if h.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return h.BlockSize
}

func checkComponent(what, s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return fmt.Errorf("invalid %s %q", what, s)
	}
	return nil
}

func (h *FileHelper) location(keyspace, family, blockID string) (string, error) {
	if h.Dir == "" {
		return "", errors.New("content directory not configured")
	}
	for _, c := range [][2]string{{"keyspace", keyspace}, {"family", family}, {"block id", blockID}} {
		if err := checkComponent(c[0], c[1]); err != nil {
			return "", err
		}
	}
	return filepath.Join(keyspace, family, blockID), nil
}

func blockFile(dir string, n int) string {
	return filepath.Join(dir, strconv.Itoa(n)+".xz")
}

// WriteBody stores body under blockID, generating a UUIDv7 when blockID is
// empty. Any earlier body under the same block id is replaced.
func (h *FileHelper) WriteBody(ctx context.Context, keyspace, family, contentID, blockID string, meta storage.Record, body io.Reader) (storage.Record, error) {
	if blockID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate block id: %w", err)
		}
		blockID = id.String()
	}
	loc, err := h.location(keyspace, family, blockID)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(h.Dir, loc)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear %s: %w", loc, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", loc, err)
	}

	splitter := boxochunker.NewSizeSplitter(body, h.blockSize())
	var blocks int
	var length int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := splitter.NextBytes()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if err := writeBlock(blockFile(dir, blocks), chunk); err != nil {
			return nil, err
		}
		blocks++
		length += int64(len(chunk))
	}

	h.logger().Debug("body written", "content", contentID, "block_id", blockID, "blocks", blocks, "length", length)

	out := meta.Clone()
	if out == nil {
		out = storage.Record{}
	}
	out[MetaBlockID] = blockID
	out[MetaBlocks] = strconv.Itoa(blocks)
	out[MetaLength] = strconv.FormatInt(length, 10)
	out[MetaLocation] = filepath.ToSlash(loc)
	return out, nil
}

func writeBlock(path string, data []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close block: %w", cerr)
		}
	}()
	w, err := xz.NewWriter(f)
	if err != nil {
		return fmt.Errorf("compress block: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("compress block: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compress block: %w", err)
	}
	return nil
}

// ReadBody opens the body recorded in meta. blockID overrides meta's block
// id when set. Blocks are opened and decompressed as the reader advances.
func (h *FileHelper) ReadBody(ctx context.Context, keyspace, family, blockID string, meta storage.Record) (io.ReadCloser, error) {
	if blockID == "" {
		blockID = meta[MetaBlockID]
	}
	if blockID == "" {
		return nil, errors.New("no block id for body")
	}
	loc, err := h.location(keyspace, family, blockID)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(h.Dir, loc)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("body %s: %w", loc, err)
	}

	blocks := -1
	if s, ok := meta[MetaBlocks]; ok && meta[MetaBlockID] == blockID {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s %q", MetaBlocks, s)
		}
		blocks = n
	}
	return &blockReader{dir: dir, blocks: blocks}, nil
}

// blockReader concatenates the decompressed blocks of one body. A negative
// blocks count reads until the next block file is missing.
type blockReader struct {
	dir    string
	blocks int
	next   int
	file   *os.File
	xz     *xz.Reader
	closed bool
}

func (r *blockReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	for {
		if r.xz == nil {
			if err := r.open(); err != nil {
				return 0, err
			}
		}
		n, err := r.xz.Read(p)
		if errors.Is(err, io.EOF) {
			r.closeFile()
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *blockReader) open() error {
	if r.blocks >= 0 && r.next >= r.blocks {
		return io.EOF
	}
	f, err := os.Open(blockFile(r.dir, r.next))
	if err != nil {
		if r.blocks < 0 && errors.Is(err, os.ErrNotExist) {
			return io.EOF
		}
		return fmt.Errorf("open block %d: %w", r.next, err)
	}
	zr, err := xz.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decompress block %d: %w", r.next, err)
	}
	r.file, r.xz = f, zr
	r.next++
	return nil
}

func (r *blockReader) closeFile() {
	if r.file != nil {
		r.file.Close()
	}
	r.file, r.xz = nil, nil
}

func (r *blockReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.closeFile()
	return nil
}

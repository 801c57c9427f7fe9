package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression of a persisted snapshot.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec maps a configuration name to a Codec. The empty name is zstd.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	}
	return 0, fmt.Errorf("vectorindex: unknown codec %q", name)
}

// Snapshot container:
//
//	[magic "NXVI"][version uint16][codec uint8] + compressed payload
//
// payload:
//
//	[dim uint32][count uint32] count*([len uint32][text]) count*dim*float32
//
// All integers and floats are little-endian.
const (
	snapshotMagic   = "NXVI"
	snapshotVersion = uint16(1)
	maxTextLen      = 1 << 24
	maxDim          = 1 << 16
)

// ErrBadSnapshot is returned by Load for data that is not a valid snapshot.
var ErrBadSnapshot = errors.New("vectorindex: bad snapshot")

// Persist writes the texts and vectors of a ready index to w. Only the data
// is written; Load rebuilds the search structure from it.
func (x *Index) Persist(w io.Writer, codec Codec) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.ready {
		return errNotReady("persist")
	}

	header := make([]byte, 0, 7)
	header = append(header, snapshotMagic...)
	header = binary.LittleEndian.AppendUint16(header, snapshotVersion)
	header = append(header, byte(codec))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("vectorindex: persist header: %w", err)
	}

	cw, err := compressor(w, codec)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(cw)
	if err := x.writePayload(bw); err != nil {
		_ = cw.Close()
		return fmt.Errorf("vectorindex: persist payload: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = cw.Close()
		return fmt.Errorf("vectorindex: persist flush: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("vectorindex: persist close: %w", err)
	}
	return nil
}

func (x *Index) writePayload(w io.Writer) error {
	var buf [4]byte
	put := func(v uint32) error {
		binary.LittleEndian.PutUint32(buf[:], v)
		_, err := w.Write(buf[:])
		return err
	}

	if err := put(uint32(x.dim)); err != nil {
		return err
	}
	if err := put(uint32(len(x.texts))); err != nil {
		return err
	}
	for _, t := range x.texts {
		if err := put(uint32(len(t))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, t); err != nil {
			return err
		}
	}
	for _, f := range x.vectors {
		if err := put(math.Float32bits(f)); err != nil {
			return err
		}
	}
	return nil
}

// Load restores an index persisted with Persist.
func (x *Index) Load(r io.Reader) error {
	if x.Ready() {
		return errBuilt("load")
	}

	header := make([]byte, 7)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("%w: header: %v", ErrBadSnapshot, err)
	}
	if string(header[:4]) != snapshotMagic {
		return fmt.Errorf("%w: magic %q", ErrBadSnapshot, header[:4])
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != snapshotVersion {
		return fmt.Errorf("%w: version %d", ErrBadSnapshot, v)
	}

	cr, err := decompressor(r, Codec(header[6]))
	if err != nil {
		return err
	}
	defer cr.Close()

	dim, texts, flat, err := readPayload(bufio.NewReader(cr))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if err := x.install(dim, texts, flat); err != nil {
		return err
	}
	x.logger.Info("vector index loaded", "texts", len(texts), "dim", dim)
	return nil
}

func readPayload(r io.Reader) (int, []string, []float32, error) {
	var buf [4]byte
	get := func() (uint32, error) {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(buf[:]), nil
	}

	dim, err := get()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("dim: %w", err)
	}
	count, err := get()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("count: %w", err)
	}
	if count > 0 && dim == 0 {
		return 0, nil, nil, fmt.Errorf("zero dimension for %d texts", count)
	}
	if dim > maxDim {
		return 0, nil, nil, fmt.Errorf("dimension %d exceeds %d", dim, maxDim)
	}

	texts := make([]string, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		n, err := get()
		if err != nil {
			return 0, nil, nil, fmt.Errorf("text %d length: %w", i, err)
		}
		if n > maxTextLen {
			return 0, nil, nil, fmt.Errorf("text %d length %d too large", i, n)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, nil, nil, fmt.Errorf("text %d: %w", i, err)
		}
		texts = append(texts, string(b))
	}

	// Grow with the data actually read; the header alone is not trusted.
	total := int(count) * int(dim)
	flat := make([]float32, 0, min(total, 1<<20))
	for i := 0; i < total; i++ {
		bits, err := get()
		if err != nil {
			return 0, nil, nil, fmt.Errorf("vector value %d: %w", i, err)
		}
		flat = append(flat, math.Float32frombits(bits))
	}
	return int(dim), texts, flat, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressor(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("vectorindex: zstd writer: %w", err)
		}
		return enc, nil
	}
	return nil, fmt.Errorf("vectorindex: persist: unknown codec %d", uint8(codec))
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func decompressor(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd reader: %v", ErrBadSnapshot, err)
		}
		return zstdReadCloser{dec}, nil
	}
	return nil, fmt.Errorf("%w: unknown codec %d", ErrBadSnapshot, uint8(codec))
}

package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"rstdocs/internal/codec"
)

// Compression identifies how a cache file payload is compressed. The
// value is the first byte of the file.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// FileBackend stores all entries as one CBOR array in a single file:
// a compression byte, the uncompressed length as a uvarint, then the
// payload.
type FileBackend struct {
	Path        string
	Compression Compression
}

// Load returns no entries when the file does not exist yet.
func (b *FileBackend) Load(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	payload, err := unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Path, err)
	}
	var entries []Entry
	if err := codec.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Path, err)
	}
	return entries, nil
}

// Save replaces the file atomically.
func (b *FileBackend) Save(ctx context.Context, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	payload, err := codec.Marshal(entries)
	if err != nil {
		return err
	}
	data, err := pack(payload, b.Compression)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.Path), filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.Path)
}

func pack(payload []byte, c Compression) ([]byte, error) {
	body := payload
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// incompressible
			c, body = CompressionNone, payload
		} else {
			body = dst[:n]
		}
	case CompressionZstd:
		body = zstdEncoder.EncodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("unsupported compression %d", c)
	}

	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(body))
	out = append(out, byte(c))
	out = binary.AppendUvarint(out, uint64(len(payload)))
	return append(out, body...), nil
}

const (
	// maxPayloadSize caps the decoded size a cache header may claim.
	maxPayloadSize = 1 << 30
	// lz4MaxRatio bounds how far an LZ4 block can expand.
	lz4MaxRatio = 255
)

func unpack(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("truncated cache file")
	}
	c := Compression(data[0])
	size, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return nil, errors.New("corrupt cache header")
	}
	body := data[1+n:]
	if size > maxPayloadSize {
		return nil, fmt.Errorf("corrupt cache header: payload size %d exceeds %d", size, maxPayloadSize)
	}

	switch c {
	case CompressionNone:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("payload is %d bytes, expected %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		if size > uint64(len(body))*lz4MaxRatio {
			return nil, fmt.Errorf("corrupt cache header: %d bytes cannot expand to %d", len(body), size)
		}
		dst := make([]byte, size)
		read, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, min(size, uint64(len(body))*4)))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", c)
}

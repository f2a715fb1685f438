package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
)

// Compression selects the block codec applied by Encoded.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression maps a config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("%w: unknown compression %q", errs.ErrInvalidInput, s)
}

func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// Envelope layout, little endian:
//
//	[0:4]   magic "GRHC"
//	[4]     version
//	[5]     compression actually applied
//	[6:8]   reserved
//	[8:12]  uncompressed size
//	[12:16] stored payload size
//	[16:24] xxhash64 of the uncompressed value
//	[24:]   payload
const (
	envelopeMagic   = "GRHC"
	envelopeVersion = 1
	headerSize      = 24
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// encode wraps data in an envelope. Values that do not shrink by at least
// 10% are stored raw.
func encode(data []byte, c Compression) ([]byte, error) {
	payload := data
	applied := CompressionNone

	if len(data) > 0 {
		var compressed []byte
		switch c {
		case CompressionLZ4:
			buf := make([]byte, lz4.CompressBlockBound(len(data)))
			n, err := lz4.CompressBlock(data, buf, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to compress with lz4: %w", err)
			}
			compressed = buf[:n]
		case CompressionZSTD:
			enc := getZstdEncoder()
			compressed = enc.EncodeAll(data, nil)
			zstdEncoderPool.Put(enc)
		}
		if len(compressed) > 0 && float64(len(compressed)) <= float64(len(data))*0.9 {
			payload = compressed
			applied = c
		}
	}

	out := make([]byte, headerSize+len(payload))
	copy(out[0:4], envelopeMagic)
	out[4] = envelopeVersion
	out[5] = byte(applied)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(out[16:], xxhash.Sum64(data))
	copy(out[headerSize:], payload)
	return out, nil
}

// decode unwraps an envelope and verifies its checksum. The compression is
// read from the header, so values written under another setting still load.
func decode(env []byte) ([]byte, error) {
	if len(env) < headerSize || string(env[0:4]) != envelopeMagic {
		return nil, fmt.Errorf("%w: not a cache envelope", errs.ErrMalformedData)
	}
	if env[4] != envelopeVersion {
		return nil, fmt.Errorf("%w: envelope version %d", errs.ErrMalformedData, env[4])
	}
	size := binary.LittleEndian.Uint32(env[8:])
	stored := binary.LittleEndian.Uint32(env[12:])
	sum := binary.LittleEndian.Uint64(env[16:])
	if uint64(len(env)-headerSize) != uint64(stored) {
		return nil, fmt.Errorf("%w: envelope payload is %d bytes, header says %d", errs.ErrMalformedData, len(env)-headerSize, stored)
	}
	payload := env[headerSize:]

	var data []byte
	switch Compression(env[5]) {
	case CompressionNone:
		data = make([]byte, len(payload))
		copy(data, payload)
	case CompressionLZ4:
		data = make([]byte, size)
		n, err := lz4.UncompressBlock(payload, data)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", errs.ErrMalformedData, err)
		}
		data = data[:n]
	case CompressionZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", errs.ErrMalformedData, err)
		}
		data = out
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", errs.ErrMalformedData, env[5])
	}

	if uint32(len(data)) != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, header says %d", errs.ErrMalformedData, len(data), size)
	}
	if xxhash.Sum64(data) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", errs.ErrMalformedData)
	}
	return data, nil
}

// Encoded wraps every value of an inner store in a checksummed envelope,
// optionally compressed.
type Encoded struct {
	inner       Store
	compression Compression
}

// NewEncoded wraps inner.
func NewEncoded(inner Store, c Compression) *Encoded {
	return &Encoded{inner: inner, compression: c}
}

func (e *Encoded) Get(ctx context.Context, key string) ([]byte, error) {
	env, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := decode(env)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", key, err)
	}
	return data, nil
}

func (e *Encoded) Put(ctx context.Context, key string, data []byte) error {
	env, err := encode(data, e.compression)
	if err != nil {
		return err
	}
	return e.inner.Put(ctx, key, env)
}

func (e *Encoded) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *Encoded) Close() error { return e.inner.Close() }

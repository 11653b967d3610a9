// Package checkpoint implements versioned, compressed phase snapshots, a
// pluggable write policy, and rewind/truncate navigation of a phased
// workflow's history.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/lprior-repo/oya-sub007/internal/errs"
)

// magicBytes identifies the checkpoint wire format: offset 0..3.
var magicBytes = [4]byte{'O', 'Y', 'A', 'C'}

// CurrentVersion is the only version this build accepts; unknown versions
// fail closed with errs.KindSchemaError.
const CurrentVersion uint32 = 1

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	encOnce.Do(func() {
		enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return enc
}

func decoder() *zstd.Decoder {
	decOnce.Do(func() {
		dec, _ = zstd.NewReader(nil)
	})
	return dec
}

// Serialize wraps body in the wire format:
//
//	offset 0..3   magic bytes (4 bytes)
//	offset 4..7   version, u32 little-endian
//	offset 8..n   zstd frame (body)
//
// body is opaque to this package — the workflow engine supplies whatever
// byte string it needs to reconstruct phase state.
func Serialize(body []byte) []byte {
	compressed := encoder().EncodeAll(body, make([]byte, 0, len(body)))
	out := make([]byte, 0, 8+len(compressed))
	out = append(out, magicBytes[:]...)
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], CurrentVersion)
	out = append(out, verBuf[:]...)
	out = append(out, compressed...)
	return out
}

// Deserialize validates the magic and version, then decompresses the body.
// Unknown versions and malformed headers fail closed with SchemaError.
func Deserialize(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, errs.SchemaError("checkpoint blob shorter than header")
	}
	if data[0] != magicBytes[0] || data[1] != magicBytes[1] || data[2] != magicBytes[2] || data[3] != magicBytes[3] {
		return nil, errs.SchemaError("checkpoint magic bytes mismatch")
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != CurrentVersion {
		return nil, errs.SchemaError(fmt.Sprintf("unsupported checkpoint version %d", version))
	}
	body, err := decoder().DecodeAll(data[8:], nil)
	if err != nil {
		return nil, errs.SerializationError(fmt.Sprintf("zstd decode: %v", err))
	}
	return body, nil
}

// CompressionRatio reports uncompressedSize / compressedSize, 1.0 if
// compressedSize is 0.
func CompressionRatio(uncompressedSize, compressedSize int) float64 {
	if compressedSize == 0 {
		return 1.0
	}
	return float64(uncompressedSize) / float64(compressedSize)
}

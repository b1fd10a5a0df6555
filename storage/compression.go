package storage

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec names understood by Decompress.  Engines map their format's compression
// descriptions onto these.
const (
	Raw         = "raw"
	Gzip        = "gzip"
	Zlib        = "zlib"
	Bzip2       = "bzip2"
	Zstd        = "zstd"
	Xz          = "xz"
	LZ4Block    = "lz4-block" // lz4-java LZ4BlockOutputStream framing
	LZ4SizedRaw = "lz4-sized" // 4-byte little-endian size followed by a raw lz4 block
	Blosc       = "blosc"
)

// a zstd.Decoder is safe for concurrent DecodeAll calls.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// Decompress returns the decoded bytes for a block compressed with the named codec.
func Decompress(codec string, in []byte) (out []byte, err error) {
	switch codec {
	case Raw, "":
		return in, nil
	case Gzip:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(bytes.NewReader(in)); err != nil {
			return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
		}
		defer zr.Close()
		return readAll(zr, "gzip")
	case Zlib:
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(bytes.NewReader(in)); err != nil {
			return nil, fmt.Errorf("can't uncompress zlib data: %v", err)
		}
		defer zr.Close()
		return readAll(zr, "zlib")
	case Bzip2:
		return readAll(bzip2.NewReader(bytes.NewReader(in)), "bzip2")
	case Zstd:
		if out, err = zstdDecoder.DecodeAll(in, nil); err != nil {
			return nil, fmt.Errorf("can't uncompress zstd data: %v", err)
		}
		return out, nil
	case Xz:
		var xr *xz.Reader
		if xr, err = xz.NewReader(bytes.NewReader(in)); err != nil {
			return nil, fmt.Errorf("can't uncompress xz data: %v", err)
		}
		return readAll(xr, "xz")
	case LZ4Block:
		return lz4BlockStream(in)
	case LZ4SizedRaw:
		if len(in) < 4 {
			return nil, fmt.Errorf("lz4 data of %d bytes has no size header", len(in))
		}
		out = make([]byte, binary.LittleEndian.Uint32(in[:4]))
		n, err := lz4.UncompressBlock(in[4:], out)
		if err != nil {
			return nil, fmt.Errorf("can't uncompress lz4 data: %v", err)
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, codec)
	}
}

func readAll(r io.Reader, codec string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("can't read %s data: %v", codec, err)
	}
	return out, nil
}

const (
	lz4BlockMagic      = "LZ4Block"
	lz4BlockHeaderSize = len(lz4BlockMagic) + 1 + 4 + 4 + 4
	lz4MethodRaw       = 0x10
	lz4MethodLZ4       = 0x20
)

// lz4BlockStream decodes the concatenated blocks written by lz4-java's
// LZ4BlockOutputStream: magic, token, compressed length, decompressed length and
// checksum (all little-endian int32) followed by the payload.
func lz4BlockStream(in []byte) ([]byte, error) {
	var out []byte
	for pos := 0; pos < len(in); {
		if len(in)-pos < lz4BlockHeaderSize || string(in[pos:pos+len(lz4BlockMagic)]) != lz4BlockMagic {
			return nil, fmt.Errorf("bad LZ4Block header at byte %d", pos)
		}
		token := in[pos+8]
		compLen := int(binary.LittleEndian.Uint32(in[pos+9 : pos+13]))
		origLen := int(binary.LittleEndian.Uint32(in[pos+13 : pos+17]))
		pos += lz4BlockHeaderSize
		if origLen == 0 && compLen == 0 {
			break // end mark
		}
		if pos+compLen > len(in) {
			return nil, fmt.Errorf("LZ4Block of %d bytes overruns %d byte stream", compLen, len(in))
		}
		switch token & 0xF0 {
		case lz4MethodRaw:
			out = append(out, in[pos:pos+compLen]...)
		case lz4MethodLZ4:
			buf := make([]byte, origLen)
			n, err := lz4.UncompressBlock(in[pos:pos+compLen], buf)
			if err != nil {
				return nil, fmt.Errorf("can't uncompress LZ4Block: %v", err)
			}
			out = append(out, buf[:n]...)
		default:
			return nil, fmt.Errorf("unknown LZ4Block method %x", token&0xF0)
		}
		pos += compLen
	}
	return out, nil
}

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

func testData() []byte {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i % 17)
	}
	return data
}

func lz4Block(method byte, payload []byte, origLen int) []byte {
	hdr := make([]byte, lz4BlockHeaderSize)
	copy(hdr, lz4BlockMagic)
	hdr[8] = method
	binary.LittleEndian.PutUint32(hdr[9:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[13:], uint32(origLen))
	return append(hdr, payload...)
}

func TestDecompress(t *testing.T) {
	orig := testData()

	var gz, zl, xzBuf bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(orig)
	gw.Close()
	zw := zlib.NewWriter(&zl)
	zw.Write(orig)
	zw.Close()
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatalf("can't make xz writer: %v\n", err)
	}
	xw.Write(orig)
	xw.Close()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("can't make zstd encoder: %v\n", err)
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(orig)))
	n, err := lz4.CompressBlock(orig, compressed, nil)
	if err != nil || n == 0 {
		t.Fatalf("lz4 compress failed (n = %d): %v\n", n, err)
	}
	compressed = compressed[:n]

	// two lz4-java blocks, one compressed and one stored, then an end mark
	var stream []byte
	stream = append(stream, lz4Block(lz4MethodLZ4, compressed, len(orig))...)
	stream = append(stream, lz4Block(lz4MethodRaw, orig[:100], 100)...)
	stream = append(stream, lz4Block(lz4MethodRaw, nil, 0)...)
	streamOrig := append(append([]byte{}, orig...), orig[:100]...)

	sized := make([]byte, 4, 4+len(compressed))
	binary.LittleEndian.PutUint32(sized, uint32(len(orig)))
	sized = append(sized, compressed...)

	tests := []struct {
		codec string
		in    []byte
		want  []byte
	}{
		{Raw, orig, orig},
		{"", orig, orig},
		{Gzip, gz.Bytes(), orig},
		{Zlib, zl.Bytes(), orig},
		{Zstd, enc.EncodeAll(orig, nil), orig},
		{Xz, xzBuf.Bytes(), orig},
		{LZ4Block, stream, streamOrig},
		{LZ4SizedRaw, sized, orig},
	}
	for _, tc := range tests {
		out, err := Decompress(tc.codec, tc.in)
		if err != nil {
			t.Errorf("codec %q: %v\n", tc.codec, err)
			continue
		}
		if !bytes.Equal(out, tc.want) {
			t.Errorf("codec %q: decoded %d bytes that don't match expected %d bytes\n", tc.codec, len(out), len(tc.want))
		}
	}
}

func TestDecompressErrors(t *testing.T) {
	if _, err := Decompress(Blosc, []byte{1, 2, 3}); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("expected ErrUnsupportedCompression for blosc, got %v\n", err)
	}
	if _, err := Decompress("snappy", nil); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("expected ErrUnsupportedCompression for unknown codec, got %v\n", err)
	}
	if _, err := Decompress(Gzip, []byte("not gzip")); err == nil {
		t.Errorf("expected error on bad gzip data\n")
	}
	if _, err := Decompress(LZ4Block, []byte("LZ4Blk")); err == nil {
		t.Errorf("expected error on truncated LZ4Block header\n")
	}
	if _, err := Decompress(LZ4Block, lz4Block(lz4MethodRaw, []byte{1, 2}, 2)[:lz4BlockHeaderSize+1]); err == nil {
		t.Errorf("expected error on overrun LZ4Block\n")
	}
	if _, err := Decompress(LZ4SizedRaw, []byte{1}); err == nil {
		t.Errorf("expected error on lz4 data without size\n")
	}
}

package stack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/janelia-flyem/n5knossos/core"
)

// memVolume is an in-memory uint8 or uint16 volume with a repeatable voxel pattern.
type memVolume struct {
	shape   []int // z, y, x
	dt      core.DataType
	reads   int32
	failAtZ int // ReadZRange fails for the chunk holding this z if >= 0
}

func newMemVolume(z, y, x int, dt core.DataType) *memVolume {
	return &memVolume{shape: []int{z, y, x}, dt: dt, failAtZ: -1}
}

func (v *memVolume) String() string          { return fmt.Sprintf("test volume %v", v.shape) }
func (v *memVolume) Shape() []int            { return v.shape }
func (v *memVolume) DataType() core.DataType { return v.dt }
func (v *memVolume) Close() error            { return nil }

var errRead = errors.New("simulated read failure")

func voxel(x, y, z int) uint16 {
	return uint16(x + 13*y + 257*z + 1)
}

func (v *memVolume) ReadZRange(ctx context.Context, z0, z1 int) (*core.Subvolume, error) {
	atomic.AddInt32(&v.reads, 1)
	if v.failAtZ >= z0 && v.failAtZ < z1 {
		return nil, errRead
	}
	nx, ny := v.shape[2], v.shape[1]
	subvol, err := core.NewSubvolume(core.Point3d{0, 0, z0}, core.Point3d{nx, ny, z1 - z0}, v.dt)
	if err != nil {
		return nil, err
	}
	i := 0
	for z := z0; z < z1; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				val := voxel(x, y, z)
				if v.dt == core.T_uint8 {
					subvol.Data[i] = uint8(val)
					i++
				} else {
					subvol.Data[i] = uint8(val)
					subvol.Data[i+1] = uint8(val >> 8)
					i += 2
				}
			}
		}
	}
	return subvol, nil
}

var errDiskFull = errors.New("disk full")

// countingFormat is a PNG format that counts calls and can write junk for a number of
// encodes to simulate corrupted writes.  If failAfter > 0, encodes past that count fail.
type countingFormat struct {
	encodes   int32
	decodes   int32
	junkFirst int32
	failAfter int32
}

func (f *countingFormat) Name() string { return "png" }
func (f *countingFormat) Ext() string  { return "png" }

func (f *countingFormat) Encode(w io.Writer, img image.Image) error {
	n := atomic.AddInt32(&f.encodes, 1)
	if f.failAfter > 0 && n > f.failAfter {
		w.Write([]byte("not an"))
		return errDiskFull
	}
	if n <= atomic.LoadInt32(&f.junkFirst) {
		_, err := w.Write([]byte("not an image"))
		return err
	}
	return png.Encode(w, img)
}

func (f *countingFormat) Decode(r io.Reader) (image.Image, error) {
	atomic.AddInt32(&f.decodes, 1)
	return png.Decode(r)
}

func extract(t *testing.T, vol *memVolume, cfg Config) Stats {
	t.Helper()
	e, err := NewExtractor(vol, cfg)
	if err != nil {
		t.Fatalf("can't create extractor: %v\n", err)
	}
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("extraction failed: %v\n", err)
	}
	return stats
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("can't read dir %s: %v\n", dir, err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestPartition(t *testing.T) {
	for _, tc := range []struct{ z, c int }{{0, 5}, {1, 1}, {3, 2}, {10, 5}, {11, 5}, {1000, 500}, {1001, 500}, {7, 100}} {
		chunks, err := Partition(tc.z, tc.c)
		if err != nil {
			t.Fatalf("Partition(%d, %d): %v\n", tc.z, tc.c, err)
		}
		if want := (tc.z + tc.c - 1) / tc.c; len(chunks) != want {
			t.Errorf("Partition(%d, %d): got %d chunks, want %d\n", tc.z, tc.c, len(chunks), want)
		}
		next := 0
		for i, chunk := range chunks {
			if chunk.Index != i || chunk.Begin != next || chunk.End <= chunk.Begin || chunk.Len() > tc.c {
				t.Errorf("Partition(%d, %d): bad %s after z %d\n", tc.z, tc.c, chunk, next)
			}
			next = chunk.End
		}
		if next != tc.z {
			t.Errorf("Partition(%d, %d): chunks end at %d\n", tc.z, tc.c, next)
		}
	}

	chunks, _ := Partition(3, 2)
	if len(chunks) != 2 || chunks[0] != (Chunk{0, 0, 2}) || chunks[1] != (Chunk{1, 2, 3}) {
		t.Errorf("Partition(3, 2) = %v\n", chunks)
	}
	if _, err := Partition(10, 0); err == nil {
		t.Errorf("expected error for zero chunk size\n")
	}
}

func TestSliceName(t *testing.T) {
	tests := []struct {
		z, extent int
		want      string
	}{
		{0, 3, "0.png"},
		{2, 3, "2.png"},
		{0, 12, "00.png"},
		{11, 12, "11.png"},
		{9, 10, "09.png"},
		{42, 1000, "0042.png"},
	}
	for _, tc := range tests {
		if got := SliceName(tc.z, tc.extent, "png"); got != tc.want {
			t.Errorf("SliceName(%d, %d) = %q, want %q\n", tc.z, tc.extent, got, tc.want)
		}
	}
}

func TestExtractSmall(t *testing.T) {
	dir := t.TempDir()
	vol := newMemVolume(3, 4, 5, core.T_uint16)
	stats := extract(t, vol, Config{OutputDir: dir, ChunkSize: 2})
	if stats.Chunks != 2 || stats.Written != 3 || stats.Skipped != 0 || stats.Placeholders != 0 {
		t.Errorf("unexpected stats: %+v\n", stats)
	}
	names := listDir(t, dir)
	if len(names) != 3 || names[0] != "0.png" || names[1] != "1.png" || names[2] != "2.png" {
		t.Fatalf("unexpected files: %v\n", names)
	}
	if vol.reads != 2 {
		t.Errorf("expected one read per chunk, got %d reads\n", vol.reads)
	}

	f, err := os.Open(filepath.Join(dir, "2.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("can't decode slice: %v\n", err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("expected 16-bit gray slice, got %T\n", img)
	}
	if b := gray.Bounds(); b.Dx() != 5 || b.Dy() != 4 {
		t.Fatalf("expected 5 x 4 slice, got %v\n", b)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			if got := gray.Gray16At(x, y).Y; got != voxel(x, y, 2) {
				t.Fatalf("slice 2 pixel (%d,%d) = %d, want %d\n", x, y, got, voxel(x, y, 2))
			}
		}
	}
}

func TestRerunSkipsEverything(t *testing.T) {
	dir := t.TempDir()
	vol := newMemVolume(12, 3, 3, core.T_uint8)
	extract(t, vol, Config{OutputDir: dir, ChunkSize: 5})
	names := listDir(t, dir)
	if len(names) != 12 || names[0] != "00.png" || names[11] != "11.png" {
		t.Fatalf("unexpected files: %v\n", names)
	}

	vol.reads = 0
	format := &countingFormat{}
	stats := extract(t, vol, Config{OutputDir: dir, ChunkSize: 5, Format: format})
	if stats.Written != 0 || stats.Skipped != 12 {
		t.Errorf("rerun should skip all 12 slices: %+v\n", stats)
	}
	if format.encodes != 0 || format.decodes != 0 {
		t.Errorf("rerun did %d encodes and %d decodes\n", format.encodes, format.decodes)
	}
	if vol.reads != 0 {
		t.Errorf("rerun did %d volume reads\n", vol.reads)
	}
}

func TestExistingFilesUntouched(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0.png", "1.png", "3.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("existing"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	vol := newMemVolume(5, 2, 2, core.T_uint16)
	stats := extract(t, vol, Config{OutputDir: dir, ChunkSize: 2, Sequential: true})
	if stats.Written != 2 || stats.Skipped != 3 {
		t.Errorf("expected 2 written and 3 skipped, got %+v\n", stats)
	}
	// chunk [0,2) is complete so only [2,4) and [4,5) are read
	if vol.reads != 2 {
		t.Errorf("expected 2 reads, got %d\n", vol.reads)
	}
	data, err := os.ReadFile(filepath.Join(dir, "3.png"))
	if err != nil || string(data) != "existing" {
		t.Errorf("existing slice was modified: %q, %v\n", data, err)
	}
}

func TestPlaceholderAfterRetries(t *testing.T) {
	dir := t.TempDir()
	vol := newMemVolume(1, 6, 7, core.T_uint16)
	format := &countingFormat{junkFirst: DefaultRetries}
	stats := extract(t, vol, Config{OutputDir: dir, ChunkSize: 10, Format: format})
	if stats.Placeholders != 1 || stats.Written != 0 {
		t.Errorf("expected one placeholder, got %+v\n", stats)
	}
	if format.encodes != DefaultRetries+1 {
		t.Errorf("expected %d encodes, got %d\n", DefaultRetries+1, format.encodes)
	}
	if names := listDir(t, dir); len(names) != 1 || names[0] != "0.png" {
		t.Fatalf("expected only the placeholder slice, got %v\n", names)
	}

	f, err := os.Open(filepath.Join(dir, "0.png"))
	if err != nil {
		t.Fatalf("placeholder missing: %v\n", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("can't decode placeholder: %v\n", err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("expected 16-bit placeholder, got %T\n", img)
	}
	if b := gray.Bounds(); b.Dx() != 7 || b.Dy() != 6 {
		t.Fatalf("expected 7 x 6 placeholder, got %v\n", b)
	}
	for _, v := range gray.Pix {
		if v != 0 {
			t.Fatalf("placeholder is not all zero\n")
		}
	}
}

func TestFailedPlaceholderLeavesNoSlice(t *testing.T) {
	dir := t.TempDir()
	vol := newMemVolume(1, 4, 4, core.T_uint8)
	format := &countingFormat{junkFirst: DefaultRetries, failAfter: DefaultRetries}
	e, err := NewExtractor(vol, Config{OutputDir: dir, ChunkSize: 1, Format: format})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background()); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected placeholder write error, got %v\n", err)
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("expected no files after failed writes, got %v\n", names)
	}

	// a rerun must not treat the slice as done
	format2 := &countingFormat{}
	e, err = NewExtractor(vol, Config{OutputDir: dir, ChunkSize: 1, Format: format2})
	if err != nil {
		t.Fatal(err)
	}
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("rerun failed: %v\n", err)
	}
	if stats.Written != 1 || stats.Skipped != 0 {
		t.Errorf("expected rerun to write the slice, got %+v\n", stats)
	}
}

func TestRetrySucceeds(t *testing.T) {
	dir := t.TempDir()
	vol := newMemVolume(2, 3, 3, core.T_uint8)
	format := &countingFormat{junkFirst: 3}
	stats := extract(t, vol, Config{OutputDir: dir, ChunkSize: 2, Format: format, Sequential: true})
	if stats.Written != 2 || stats.Placeholders != 0 {
		t.Errorf("expected retries to recover, got %+v\n", stats)
	}
	for _, name := range listDir(t, dir) {
		if name != "0.png" && name != "1.png" {
			t.Errorf("unexpected file %q left behind\n", name)
		}
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	vol := newMemVolume(23, 9, 11, core.T_uint16)
	seqDir, parDir, cappedDir := t.TempDir(), t.TempDir(), t.TempDir()
	extract(t, vol, Config{OutputDir: seqDir, ChunkSize: 4, Sequential: true})
	extract(t, vol, Config{OutputDir: parDir, ChunkSize: 4})
	extract(t, vol, Config{OutputDir: cappedDir, ChunkSize: 4, Workers: 2})

	names := listDir(t, seqDir)
	if len(names) != 23 {
		t.Fatalf("expected 23 slices, got %d\n", len(names))
	}
	for _, name := range names {
		seq, err := os.ReadFile(filepath.Join(seqDir, name))
		if err != nil {
			t.Fatal(err)
		}
		for _, dir := range []string{parDir, cappedDir} {
			other, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				t.Fatalf("slice %s missing from %s: %v\n", name, dir, err)
			}
			if !bytes.Equal(seq, other) {
				t.Errorf("slice %s differs between sequential and parallel runs\n", name)
			}
		}
	}
}

func TestBadVolume(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "slices")
	vol2d := &memVolume{shape: []int{10, 10}, dt: core.T_uint16, failAtZ: -1}
	if _, err := NewExtractor(vol2d, Config{OutputDir: outDir, ChunkSize: 5}); !errors.Is(err, ErrRank) {
		t.Errorf("expected ErrRank, got %v\n", err)
	}
	volFloat := newMemVolume(4, 4, 4, core.T_float32)
	if _, err := NewExtractor(volFloat, Config{OutputDir: outDir, ChunkSize: 5}); !errors.Is(err, ErrDataType) {
		t.Errorf("expected ErrDataType, got %v\n", err)
	}
	for _, flat := range []*memVolume{newMemVolume(2, 0, 4, core.T_uint8), newMemVolume(2, 4, 0, core.T_uint8)} {
		if _, err := NewExtractor(flat, Config{OutputDir: outDir, ChunkSize: 5}); err == nil {
			t.Errorf("expected error for %s\n", flat)
		}
	}
	vol := newMemVolume(4, 4, 4, core.T_uint8)
	if _, err := NewExtractor(vol, Config{OutputDir: outDir}); err == nil {
		t.Errorf("expected error for zero chunk size\n")
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Errorf("output directory should not exist after failed setup: %v\n", err)
	}
	if vol2d.reads != 0 || volFloat.reads != 0 {
		t.Errorf("volume read before validation\n")
	}
}

func TestWorkerFailure(t *testing.T) {
	dir := t.TempDir()
	vol := newMemVolume(9, 2, 2, core.T_uint8)
	vol.failAtZ = 4
	e, err := NewExtractor(vol, Config{OutputDir: dir, ChunkSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	stats, err := e.Run(context.Background())
	if !errors.Is(err, errRead) {
		t.Fatalf("expected read failure to propagate, got %v\n", err)
	}
	// other chunks still complete
	if stats.Written != 6 {
		t.Errorf("expected the 6 slices of good chunks to be written, got %+v\n", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, "4.png")); !os.IsNotExist(err) {
		t.Errorf("slice of failed chunk should not exist\n")
	}
}

func TestDryRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	vol := newMemVolume(7, 2, 2, core.T_uint16)
	stats := extract(t, vol, Config{OutputDir: dir, ChunkSize: 3, DryRun: true})
	if stats.Written != 0 || vol.reads != 0 {
		t.Errorf("dry run wrote %d slices with %d reads\n", stats.Written, vol.reads)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("dry run created the output directory\n")
	}
}

func TestCanceled(t *testing.T) {
	vol := newMemVolume(4, 2, 2, core.T_uint8)
	e, err := NewExtractor(vol, Config{OutputDir: t.TempDir(), ChunkSize: 2, Sequential: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled error, got %v\n", err)
	}
}

func TestProgressReport(t *testing.T) {
	p := NewProgress()
	vol := newMemVolume(4, 2, 2, core.T_uint8)
	extract(t, vol, Config{OutputDir: t.TempDir(), ChunkSize: 3, Progress: p})
	r := p.Report()
	if r.ChunksTotal != 2 || r.SlicesTotal != 4 || r.Chunks != 2 || r.Written != 4 || r.Percent != 100 {
		t.Errorf("unexpected progress report: %+v\n", r)
	}
	if r.Bytes == 0 {
		t.Errorf("expected bytes written to be counted\n")
	}
}

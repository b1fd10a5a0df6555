/*
	Package stack extracts a 3d volume into a directory of 2d image slices, one file per
	z index.  The z axis is split into chunks that are each read with one request and then
	written slice by slice.  Slices whose file already exists are skipped, so an interrupted
	extraction can simply be run again.
*/
package stack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"github.com/janelia-flyem/n5knossos/core"
	"github.com/janelia-flyem/n5knossos/storage"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize = 500
	DefaultRetries   = 10
)

var (
	// ErrRank is returned for volumes that aren't 3d.
	ErrRank = errors.New("volume must have 3 dimensions")

	// ErrDataType is returned for volumes whose samples can't be written as image slices.
	ErrDataType = errors.New("unsupported sample type for image slices")
)

// Config sets how a volume is extracted.
type Config struct {
	// OutputDir receives the slice images.
	OutputDir string

	// ChunkSize is the number of z slices read at once.
	ChunkSize int

	// Workers caps the number of chunks processed concurrently.  If 0, every chunk gets
	// its own worker.
	Workers int

	// Sequential processes chunks one after another in a single goroutine.
	Sequential bool

	// Retries is the number of write attempts for a slice before a zero-valued placeholder
	// is written.  Defaults to DefaultRetries.
	Retries int

	// Format of the slice files.  Defaults to PNG.
	Format core.ImageFormat

	// DryRun logs what would be done without reading blocks or writing files.
	DryRun bool

	// Progress is updated as slices are written.  A new one is made if nil.
	Progress *Progress
}

// Extractor writes the slices of a volume.
type Extractor struct {
	vol    storage.Volume
	cfg    Config
	shape  [3]int // z, y, x
	chunks []Chunk
}

// NewExtractor checks that the volume can be written as image slices and creates the
// output directory.  Nothing is written to disk if the volume or configuration is bad.
func NewExtractor(vol storage.Volume, cfg Config) (*Extractor, error) {
	shape := vol.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: %s has shape %v", ErrRank, vol, shape)
	}
	if shape[1] <= 0 || shape[2] <= 0 {
		return nil, fmt.Errorf("%s has empty %d x %d slices", vol, shape[2], shape[1])
	}
	if dt := vol.DataType(); !core.ImageSupported(dt) {
		return nil, fmt.Errorf("%w: %s has %s samples", ErrDataType, vol, dt)
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("no output directory given for slices")
	}
	chunks, err := Partition(shape[0], cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("bad number of workers: %d", cfg.Workers)
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Format == nil {
		if cfg.Format, err = core.GetImageFormat("png"); err != nil {
			return nil, err
		}
	}
	if cfg.Progress == nil {
		cfg.Progress = NewProgress()
	}
	if !cfg.DryRun {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("can't create slice directory %q: %v", cfg.OutputDir, err)
		}
	}
	return &Extractor{
		vol:    vol,
		cfg:    cfg,
		shape:  [3]int{shape[0], shape[1], shape[2]},
		chunks: chunks,
	}, nil
}

// Progress returns the progress tracker updated by Run.
func (e *Extractor) Progress() *Progress {
	return e.cfg.Progress
}

// Filename returns the path of the slice at z.
func (e *Extractor) Filename(z int) string {
	return filepath.Join(e.cfg.OutputDir, SliceName(z, e.shape[0], e.cfg.Format.Ext()))
}

// Run writes all missing slices.  The parallel and sequential modes write identical files.
func (e *Extractor) Run(ctx context.Context) (Stats, error) {
	timedLog := core.NewTimeLog()
	e.cfg.Progress.begin(len(e.chunks), e.shape[0])
	core.Infof("Extracting %s into %d chunks of up to %d slices -> %s\n", e.vol, len(e.chunks),
		e.cfg.ChunkSize, e.cfg.OutputDir)

	var err error
	switch {
	case e.cfg.DryRun:
		e.dryRun()
	case e.cfg.Sequential:
		err = e.runSequential(ctx)
	default:
		err = e.runParallel(ctx)
	}
	stats := e.cfg.Progress.Stats()
	if err != nil {
		return stats, err
	}
	timedLog.Infof("Extracted %d chunks: %d slices written, %d skipped, %d placeholders, %s",
		stats.Chunks, stats.Written, stats.Skipped, stats.Placeholders, humanize.Bytes(stats.Bytes))
	return stats, nil
}

func (e *Extractor) runParallel(ctx context.Context) error {
	workers := e.cfg.Workers
	if workers == 0 {
		workers = len(e.chunks)
	}
	// A failed chunk does not stop the others; the first error is returned once all finish.
	var eg errgroup.Group
	eg.SetLimit(max(workers, 1))
	for _, chunk := range e.chunks {
		eg.Go(func() error {
			return e.writeChunk(ctx, chunk)
		})
	}
	return eg.Wait()
}

func (e *Extractor) runSequential(ctx context.Context) error {
	for _, chunk := range e.chunks {
		if err := e.writeChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) dryRun() {
	for _, chunk := range e.chunks {
		var missing int
		for z := chunk.Begin; z < chunk.End; z++ {
			if !fileExists(e.Filename(z)) {
				missing++
			}
		}
		core.Infof("Dry run: %s would read %d x %d x %d voxels and write %d of %d slices (%s .. %s)\n",
			chunk, e.shape[2], e.shape[1], chunk.Len(), missing, chunk.Len(),
			filepath.Base(e.Filename(chunk.Begin)), filepath.Base(e.Filename(chunk.End-1)))
	}
}

// writeChunk reads the chunk's z range if any of its slices are missing and writes them.
func (e *Extractor) writeChunk(ctx context.Context, chunk Chunk) error {
	var todo []int
	for z := chunk.Begin; z < chunk.End; z++ {
		if !fileExists(e.Filename(z)) {
			todo = append(todo, z)
		}
	}
	e.cfg.Progress.skip(chunk.Len() - len(todo))
	if len(todo) == 0 {
		core.Debugf("All slices of %s exist, skipping\n", chunk)
		e.cfg.Progress.chunkDone()
		return nil
	}

	timedLog := core.NewTimeLog()
	subvol, err := e.vol.ReadZRange(ctx, chunk.Begin, chunk.End)
	if err != nil {
		return fmt.Errorf("reading %s: %w", chunk, err)
	}
	if core.Verbose {
		core.Debugf("%s holds %s\n", chunk, humanize.Bytes(uint64(size.Of(subvol))))
	}
	timedLog.Debugf("Read %s", chunk)

	nx, ny := e.shape[2], e.shape[1]
	for _, z := range todo {
		if err := ctx.Err(); err != nil {
			return err
		}
		plane, err := subvol.Plane(z)
		if err != nil {
			return err
		}
		img, err := core.ImageFromPlane(subvol.DataType, nx, ny, plane)
		if err != nil {
			return err
		}
		if err := e.writeSlice(e.Filename(z), img, subvol.DataType); err != nil {
			return err
		}
	}
	e.cfg.Progress.chunkDone()
	timedLog.Infof("Wrote %d slices of %s", len(todo), chunk)
	return nil
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

package stack

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/janelia-flyem/n5knossos/core"
	"github.com/twinj/uuid"
)

// writeSlice writes and verifies an image, retrying up to the configured number of
// attempts.  If every attempt fails, an all-zero image of the same shape and sample type
// is written in its place.  Only a failure to write the placeholder is returned, in which
// case nothing is left under the slice name.
func (e *Extractor) writeSlice(filename string, img image.Image, dt core.DataType) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retries; attempt++ {
		n, err := e.writeImage(filename, img)
		if err == nil {
			e.cfg.Progress.wrote(n, false)
			return nil
		}
		lastErr = err
		core.Warningf("Attempt %d of %d to write %s failed: %v\n", attempt, e.cfg.Retries, filename, err)
	}

	core.Errorf("Unable to write %s after %d attempts (%v), writing zero placeholder\n",
		filename, e.cfg.Retries, lastErr)
	bounds := img.Bounds()
	zero, err := core.ZeroImage(dt, bounds.Dx(), bounds.Dy())
	if err != nil {
		return err
	}
	n, err := e.writeImage(filename, zero)
	if err != nil {
		return fmt.Errorf("can't write placeholder %s: %w", filename, err)
	}
	e.cfg.Progress.wrote(n, true)
	return nil
}

// writeImage encodes into a uniquely named file in the same directory, decodes it back,
// and only then renames it to the slice name.  A file under the slice name is always a
// complete, decodable image.
func (e *Extractor) writeImage(filename string, img image.Image) (int64, error) {
	dir, base := filepath.Split(filename)
	tmpname := filepath.Join(dir, fmt.Sprintf(".%s-%x.tmp", base, uuid.NewV4().Bytes()))
	f, err := os.OpenFile(tmpname, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}
	err = e.cfg.Format.Encode(f, img)
	if err == nil {
		err = f.Sync()
	}
	var n int64
	if fi, statErr := f.Stat(); statErr == nil {
		n = fi.Size()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = e.verify(tmpname, img.Bounds())
	}
	if err == nil {
		err = os.Rename(tmpname, filename)
	}
	if err != nil {
		os.Remove(tmpname)
		return 0, err
	}
	return n, nil
}

// verify decodes a written slice and checks that its bounds match.
func (e *Extractor) verify(filename string, want image.Rectangle) error {
	img, err := core.ImageFromFile(e.cfg.Format, filename)
	if err != nil {
		return fmt.Errorf("can't decode written slice: %v", err)
	}
	got := img.Bounds()
	if got.Empty() {
		return fmt.Errorf("written slice decodes to empty image")
	}
	if got.Dx() != want.Dx() || got.Dy() != want.Dy() {
		return fmt.Errorf("written slice is %d x %d, expected %d x %d", got.Dx(), got.Dy(), want.Dx(), want.Dy())
	}
	return nil
}

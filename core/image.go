/*
	This file supports conversion of volume planes to standard Go images and the
	on-disk image formats used for exported slices.
*/

package core

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/janelia-flyem/go/go.image/tiff"
)

// ImageFormat encodes and decodes slices in a particular file format.
type ImageFormat interface {
	// Name is the format name handed to downstream tools, e.g., "png".
	Name() string

	// Ext is the file extension without the dot.
	Ext() string

	Encode(w io.Writer, img image.Image) error
	Decode(r io.Reader) (image.Image, error)
}

type pngFormat struct {
	enc png.Encoder
}

func (pngFormat) Name() string { return "png" }
func (pngFormat) Ext() string  { return "png" }

func (f pngFormat) Encode(w io.Writer, img image.Image) error {
	return f.enc.Encode(w, img)
}

func (pngFormat) Decode(r io.Reader) (image.Image, error) {
	return png.Decode(r)
}

type tifFormat struct{}

func (tifFormat) Name() string { return "tif" }
func (tifFormat) Ext() string  { return "tif" }

func (tifFormat) Encode(w io.Writer, img image.Image) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

func (tifFormat) Decode(r io.Reader) (image.Image, error) {
	return tiff.Decode(r)
}

// GetImageFormat returns the slice format for a name.  PNG slices are written without
// compression since they are transient input to the cuber.
func GetImageFormat(name string) (ImageFormat, error) {
	switch strings.ToLower(name) {
	case "", "png":
		return pngFormat{png.Encoder{CompressionLevel: png.NoCompression}}, nil
	case "tif", "tiff":
		return tifFormat{}, nil
	default:
		return nil, fmt.Errorf("illegal image format requested: %q", name)
	}
}

// ImageFromPlane returns a Go image for a plane of little-endian samples with x varying
// fastest.  Only 8-bit and 16-bit unsigned samples map onto standard gray images.
func ImageFromPlane(dt DataType, nx, ny int, data []byte) (image.Image, error) {
	if len(data) != nx*ny*dt.Bytes() {
		return nil, fmt.Errorf("plane of %d x %d %s needs %d bytes, got %d", nx, ny, dt,
			nx*ny*dt.Bytes(), len(data))
	}
	switch dt {
	case T_uint8:
		img := image.NewGray(image.Rect(0, 0, nx, ny))
		copy(img.Pix, data)
		return img, nil
	case T_uint16:
		img := image.NewGray16(image.Rect(0, 0, nx, ny))
		// image.Gray16 holds big-endian samples.
		for i := 0; i+1 < len(data); i += 2 {
			img.Pix[i] = data[i+1]
			img.Pix[i+1] = data[i]
		}
		return img, nil
	default:
		return nil, fmt.Errorf("can't make image from %s samples", dt)
	}
}

// ZeroImage returns an all-zero image of the given sample type and size.
func ZeroImage(dt DataType, nx, ny int) (image.Image, error) {
	switch dt {
	case T_uint8:
		return image.NewGray(image.Rect(0, 0, nx, ny)), nil
	case T_uint16:
		return image.NewGray16(image.Rect(0, 0, nx, ny)), nil
	default:
		return nil, fmt.Errorf("can't make image from %s samples", dt)
	}
}

// ImageSupported returns true if planes of the data type can be exported as images.
func ImageSupported(dt DataType) bool {
	return dt == T_uint8 || dt == T_uint16
}

// ImageFromFile decodes an image file with the given format.
func ImageFromFile(format ImageFormat, filename string) (image.Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return format.Decode(f)
}

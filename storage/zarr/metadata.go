package zarr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/janelia-flyem/n5knossos/core"
	"github.com/janelia-flyem/n5knossos/storage"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const arraySchema = `{
	"type": "object",
	"required": ["zarr_format", "shape", "chunks", "dtype"],
	"properties": {
		"zarr_format": {"const": 2},
		"shape": {"type": "array", "items": {"type": "integer", "minimum": 0}},
		"chunks": {"type": "array", "items": {"type": "integer", "minimum": 1}},
		"dtype": {"type": "string"},
		"order": {"enum": ["C", "F"]},
		"dimension_separator": {"enum": [".", "/"]},
		"compressor": {
			"type": ["object", "null"],
			"properties": {"id": {"type": "string"}}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("zarray.schema.json", arraySchema)

// CompressionMeta is the "compressor" member of .zarray.
type CompressionMeta struct {
	ID     string `json:"id"`
	Cname  string `json:"cname,omitempty"`
	Clevel int    `json:"clevel,omitempty"`
	Level  int    `json:"level,omitempty"`
	Format int    `json:"format,omitempty"`
}

// ArrayMeta is the ".zarray" metadata of a Zarr v2 array.
type ArrayMeta struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	Dtype              string            `json:"dtype"`
	Compressor         *CompressionMeta  `json:"compressor"`
	FillValue          interface{}       `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator"`

	dtype Dtype
	codec string
	fill  uint64
}

func parseArrayMeta(data []byte) (*ArrayMeta, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("bad .zarray: %v", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid zarr array metadata: %v", err)
	}
	meta := new(ArrayMeta)
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("bad .zarray: %v", err)
	}
	if len(meta.Shape) != len(meta.Chunks) {
		return nil, fmt.Errorf("%d dimensions but %d chunk sizes", len(meta.Shape), len(meta.Chunks))
	}
	if meta.Order == "F" {
		return nil, fmt.Errorf("zarr arrays with Fortran order are not supported")
	}
	if len(meta.Filters) != 0 {
		return nil, fmt.Errorf("zarr arrays with filters are not supported")
	}
	if meta.DimensionSeparator == "" {
		meta.DimensionSeparator = "."
	}
	var err error
	if meta.dtype, err = ParseDtype(meta.Dtype); err != nil {
		return nil, err
	}
	if meta.codec, err = meta.codecName(); err != nil {
		return nil, err
	}
	if meta.fill, err = fillBits(meta.FillValue, meta.dtype.DataType); err != nil {
		return nil, err
	}
	return meta, nil
}

// codecName maps the numcodecs compressor id to a storage codec.
func (m *ArrayMeta) codecName() (string, error) {
	if m.Compressor == nil {
		return storage.Raw, nil
	}
	switch m.Compressor.ID {
	case "zlib":
		return storage.Zlib, nil
	case "gzip":
		return storage.Gzip, nil
	case "bz2":
		return storage.Bzip2, nil
	case "zstd":
		return storage.Zstd, nil
	case "lzma":
		return storage.Xz, nil
	case "lz4":
		return storage.LZ4SizedRaw, nil
	default:
		return "", fmt.Errorf("%w: zarr compressor %q", storage.ErrUnsupportedCompression, m.Compressor.ID)
	}
}

// fillBits returns the little-endian bit pattern of the fill value for the data type.
func fillBits(v interface{}, dt core.DataType) (uint64, error) {
	switch fv := v.(type) {
	case nil:
		return 0, nil
	case float64:
		switch dt {
		case core.T_float32:
			return uint64(math.Float32bits(float32(fv))), nil
		case core.T_float64:
			return math.Float64bits(fv), nil
		case core.T_int8, core.T_int16, core.T_int32, core.T_int64:
			bits := uint64(int64(fv))
			if n := dt.Bytes(); n < 8 {
				bits &= (1 << (8 * uint(n))) - 1
			}
			return bits, nil
		default:
			return uint64(fv), nil
		}
	case string:
		var f float64
		switch fv {
		case "NaN":
			f = math.NaN()
		case "Infinity":
			f = math.Inf(1)
		case "-Infinity":
			f = math.Inf(-1)
		default:
			parsed, err := strconv.ParseFloat(fv, 64)
			if err != nil {
				return 0, fmt.Errorf("unsupported fill_value %q", fv)
			}
			f = parsed
		}
		return fillBits(f, dt)
	default:
		return 0, fmt.Errorf("unsupported fill_value %v", v)
	}
}

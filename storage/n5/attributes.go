package n5

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/janelia-flyem/n5knossos/core"
	"github.com/janelia-flyem/n5knossos/storage"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const attributesSchema = `{
	"type": "object",
	"required": ["dimensions", "blockSize", "dataType"],
	"properties": {
		"dimensions": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 0}},
		"blockSize": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 1}},
		"dataType": {"type": "string"},
		"compressionType": {"type": "string"},
		"compression": {
			"type": "object",
			"required": ["type"],
			"properties": {"type": {"type": "string"}}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("attributes.schema.json", attributesSchema)

// Compression is the "compression" attribute of an N5 dataset.
type Compression struct {
	Type    string `json:"type"`
	Level   int    `json:"level"`
	UseZlib bool   `json:"useZlib"`
}

// Attributes are the array attributes of an N5 dataset.  Dimensions and BlockSize are
// listed fastest varying first.
type Attributes struct {
	Dimensions      []int         `json:"dimensions"`
	BlockSize       []int         `json:"blockSize"`
	DataType        core.DataType `json:"dataType"`
	CompressionType string        `json:"compressionType"`
	Compression     *Compression  `json:"compression"`

	codec string
}

func parseAttributes(data []byte) (*Attributes, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("bad attributes.json: %v", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid N5 array attributes: %v", err)
	}
	attrs := new(Attributes)
	if err := json.Unmarshal(data, attrs); err != nil {
		return nil, fmt.Errorf("bad attributes.json: %v", err)
	}
	if len(attrs.Dimensions) != len(attrs.BlockSize) {
		return nil, fmt.Errorf("%d dimensions but %d block sizes", len(attrs.Dimensions), len(attrs.BlockSize))
	}
	var err error
	if attrs.codec, err = attrs.codecName(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// codecName maps the N5 compression description to a storage codec.
func (a *Attributes) codecName() (string, error) {
	compType := a.CompressionType
	if a.Compression != nil {
		compType = a.Compression.Type
	}
	switch compType {
	case "", "raw":
		return storage.Raw, nil
	case "gzip":
		if a.Compression != nil && a.Compression.UseZlib {
			return storage.Zlib, nil
		}
		return storage.Gzip, nil
	case "bzip2":
		return storage.Bzip2, nil
	case "lz4":
		return storage.LZ4Block, nil
	case "xz":
		return storage.Xz, nil
	case "zstd":
		return storage.Zstd, nil
	default:
		return "", fmt.Errorf("%w: N5 compression %q", storage.ErrUnsupportedCompression, compType)
	}
}

/*
	Package n5 implements a read-only storage engine for N5 containers.  A dataset is a
	directory (or key prefix) holding an attributes.json document and one object per
	block at <dataset>/<i>/<j>/<k>, where the grid indices follow the dimension order of
	the attributes, x first.
*/
package n5

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blang/semver"
	"github.com/janelia-flyem/n5knossos/core"
	"github.com/janelia-flyem/n5knossos/storage"

	"gocloud.dev/blob"
)

const attributesKey = "attributes.json"

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		core.Errorf("Unable to make semver in n5: %v\n", err)
	}
	storage.RegisterEngine(Engine{"n5", "N5 chunked array container", ver})
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// Detect returns true if the dataset has an N5 attributes.json.
func (e Engine) Detect(ctx context.Context, bucket *blob.Bucket, dataset string) bool {
	ok, err := bucket.Exists(ctx, storage.Key(dataset, attributesKey))
	return err == nil && ok
}

// OpenVolume reads and validates the dataset attributes.
func (e Engine) OpenVolume(ctx context.Context, bucket *blob.Bucket, dataset string, cache *storage.BlockCache) (storage.Volume, error) {
	if err := checkVersion(ctx, bucket); err != nil {
		return nil, err
	}
	data, err := storage.ReadObject(ctx, bucket, storage.Key(dataset, attributesKey))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("no N5 dataset at %q", dataset)
	}
	attrs, err := parseAttributes(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", dataset, err)
	}
	vol := &n5Volume{
		bucket:  bucket,
		dataset: dataset,
		attrs:   attrs,
		cache:   cache,
	}
	core.Infof("Loaded N5 dataset %q: dimensions %v, block size %v, %s, %s compression\n",
		dataset, attrs.Dimensions, attrs.BlockSize, attrs.DataType, attrs.codec)
	return vol, nil
}

// checkVersion makes sure a root "n5" version attribute, if present, is one we can read.
func checkVersion(ctx context.Context, bucket *blob.Bucket) error {
	data, err := storage.ReadObject(ctx, bucket, attributesKey)
	if err != nil || data == nil {
		return err
	}
	var root struct {
		N5 string `json:"n5"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("bad N5 root attributes: %v", err)
	}
	if root.N5 == "" {
		return nil
	}
	ver, err := semver.ParseTolerant(root.N5)
	if err != nil {
		return fmt.Errorf("bad N5 version %q: %v", root.N5, err)
	}
	if ver.Major < 1 || ver.Major > 4 {
		return fmt.Errorf("N5 version %s is not supported", ver)
	}
	core.Debugf("N5 container version %s\n", ver)
	return nil
}

// ---- N5 volume --------

type n5Volume struct {
	bucket  *blob.Bucket
	dataset string
	attrs   *Attributes
	cache   *storage.BlockCache
}

func (v *n5Volume) String() string {
	return fmt.Sprintf("N5 dataset %q %s %v", v.dataset, v.attrs.DataType, v.Shape())
}

// Shape returns the dimensions slowest first, i.e., reversed from the attributes.
func (v *n5Volume) Shape() []int {
	n := len(v.attrs.Dimensions)
	shape := make([]int, n)
	for i, d := range v.attrs.Dimensions {
		shape[n-1-i] = d
	}
	return shape
}

func (v *n5Volume) DataType() core.DataType {
	return v.attrs.DataType
}

func (v *n5Volume) Close() error {
	return nil
}

func (v *n5Volume) ReadZRange(ctx context.Context, z0, z1 int) (*core.Subvolume, error) {
	if len(v.attrs.Dimensions) != 3 {
		return nil, fmt.Errorf("can't read z range from %d-d dataset %q", len(v.attrs.Dimensions), v.dataset)
	}
	grid := storage.Grid{
		VolumeSize: core.Point3d{v.attrs.Dimensions[0], v.attrs.Dimensions[1], v.attrs.Dimensions[2]},
		BlockSize:  core.Point3d{v.attrs.BlockSize[0], v.attrs.BlockSize[1], v.attrs.BlockSize[2]},
		DataType:   v.attrs.DataType,
		CacheKey:   "n5:" + v.bucketID() + v.dataset,
		Cache:      v.cache,
	}
	return grid.ReadZRange(ctx, z0, z1, v.getBlock)
}

// bucketID distinguishes cache keys of volumes in different buckets.
func (v *n5Volume) bucketID() string {
	return fmt.Sprintf("%p/", v.bucket)
}

func (v *n5Volume) blockKey(coord core.ChunkPoint3d) string {
	return storage.Key(v.dataset, strconv.Itoa(coord[0]), strconv.Itoa(coord[1]), strconv.Itoa(coord[2]))
}

func (v *n5Volume) getBlock(ctx context.Context, coord core.ChunkPoint3d) ([]byte, core.Point3d, error) {
	var size core.Point3d
	raw, err := storage.ReadObject(ctx, v.bucket, v.blockKey(coord))
	if err != nil || raw == nil {
		return nil, size, err
	}
	hdr, err := parseBlockHeader(raw)
	if err != nil {
		return nil, size, err
	}
	if len(hdr.dims) != 3 {
		return nil, size, fmt.Errorf("block has %d dimensions, expected 3", len(hdr.dims))
	}
	copy(size[:], hdr.dims)
	data, err := storage.Decompress(v.attrs.codec, raw[hdr.length:])
	if err != nil {
		return nil, size, err
	}
	bytesPerVoxel := v.attrs.DataType.Bytes()
	numElements := size.Prod()
	if hdr.mode == modeVarLength {
		numElements = hdr.numElements
	}
	if len(data) < numElements*bytesPerVoxel {
		return nil, size, fmt.Errorf("block %s decoded to %d bytes, expected %d", size, len(data), numElements*bytesPerVoxel)
	}
	data = data[:numElements*bytesPerVoxel]
	core.SwapBytes(data, bytesPerVoxel) // N5 payloads are big-endian
	if short := size.Prod()*bytesPerVoxel - len(data); short > 0 {
		data = append(data, make([]byte, short)...)
	}
	return data, size, nil
}

const (
	modeDefault   = 0
	modeVarLength = 1
	modeObject    = 2
)

type blockHeader struct {
	mode        uint16
	dims        []int
	numElements int
	length      int // bytes before the compressed payload
}

func parseBlockHeader(raw []byte) (hdr blockHeader, err error) {
	r := bytes.NewReader(raw)
	var mode, ndim uint16
	if err = binary.Read(r, binary.BigEndian, &mode); err != nil {
		return hdr, fmt.Errorf("short N5 block header: %v", err)
	}
	if err = binary.Read(r, binary.BigEndian, &ndim); err != nil {
		return hdr, fmt.Errorf("short N5 block header: %v", err)
	}
	if mode == modeObject {
		return hdr, fmt.Errorf("N5 object blocks are not supported")
	}
	if mode != modeDefault && mode != modeVarLength {
		return hdr, fmt.Errorf("unknown N5 block mode %d", mode)
	}
	dims := make([]uint32, ndim)
	if err = binary.Read(r, binary.BigEndian, dims); err != nil {
		return hdr, fmt.Errorf("short N5 block header: %v", err)
	}
	hdr.mode = mode
	hdr.dims = make([]int, ndim)
	for i, d := range dims {
		hdr.dims[i] = int(d)
	}
	hdr.length = 4 + 4*int(ndim)
	if mode == modeVarLength {
		var n uint32
		if err = binary.Read(r, binary.BigEndian, &n); err != nil {
			return hdr, fmt.Errorf("short N5 block header: %v", err)
		}
		hdr.numElements = int(n)
		hdr.length += 4
	}
	return hdr, nil
}

/*
	Package zarr implements a read-only storage engine for Zarr v2 arrays.  Only
	C-ordered arrays of simple numeric dtypes without filters are supported, which covers
	image volumes written by zarr-python and tensorstore.
*/
package zarr

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"github.com/janelia-flyem/n5knossos/core"
	"github.com/janelia-flyem/n5knossos/storage"

	"gocloud.dev/blob"
)

const arrayKey = ".zarray"

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		core.Errorf("Unable to make semver in zarr: %v\n", err)
	}
	storage.RegisterEngine(Engine{"zarr", "Zarr v2 array", ver})
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

// Detect returns true if the dataset has a .zarray.
func (e Engine) Detect(ctx context.Context, bucket *blob.Bucket, dataset string) bool {
	ok, err := bucket.Exists(ctx, storage.Key(dataset, arrayKey))
	return err == nil && ok
}

func (e Engine) OpenVolume(ctx context.Context, bucket *blob.Bucket, dataset string, cache *storage.BlockCache) (storage.Volume, error) {
	data, err := storage.ReadObject(ctx, bucket, storage.Key(dataset, arrayKey))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("no zarr array at %q", dataset)
	}
	meta, err := parseArrayMeta(data)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", dataset, err)
	}
	core.Infof("Loaded zarr array %q: shape %v, chunks %v, %s, %s compression\n",
		dataset, meta.Shape, meta.Chunks, meta.dtype.DataType, meta.codec)
	return &zarrVolume{bucket: bucket, dataset: dataset, meta: meta, cache: cache}, nil
}

// ---- Zarr volume --------

type zarrVolume struct {
	bucket  *blob.Bucket
	dataset string
	meta    *ArrayMeta
	cache   *storage.BlockCache
}

func (v *zarrVolume) String() string {
	return fmt.Sprintf("zarr array %q %s %v", v.dataset, v.meta.dtype.DataType, v.meta.Shape)
}

func (v *zarrVolume) Shape() []int {
	return append([]int(nil), v.meta.Shape...)
}

func (v *zarrVolume) DataType() core.DataType {
	return v.meta.dtype.DataType
}

func (v *zarrVolume) Close() error {
	return nil
}

func (v *zarrVolume) ReadZRange(ctx context.Context, z0, z1 int) (*core.Subvolume, error) {
	shape, chunks := v.meta.Shape, v.meta.Chunks
	if len(shape) != 3 {
		return nil, fmt.Errorf("can't read z range from %d-d array %q", len(shape), v.dataset)
	}
	grid := storage.Grid{
		VolumeSize: core.Point3d{shape[2], shape[1], shape[0]},
		BlockSize:  core.Point3d{chunks[2], chunks[1], chunks[0]},
		DataType:   v.meta.dtype.DataType,
		FillValue:  v.meta.fill,
		CacheKey:   fmt.Sprintf("zarr:%p/%s", v.bucket, v.dataset),
		Cache:      v.cache,
	}
	return grid.ReadZRange(ctx, z0, z1, v.getChunk)
}

// chunkKey returns the key for a chunk with indices given slowest axis first.
func (v *zarrVolume) chunkKey(coord core.ChunkPoint3d) string {
	parts := []string{strconv.Itoa(coord[2]), strconv.Itoa(coord[1]), strconv.Itoa(coord[0])}
	return storage.Key(v.dataset, strings.Join(parts, v.meta.DimensionSeparator))
}

func (v *zarrVolume) getChunk(ctx context.Context, coord core.ChunkPoint3d) ([]byte, core.Point3d, error) {
	chunks := v.meta.Chunks
	size := core.Point3d{chunks[2], chunks[1], chunks[0]}
	raw, err := storage.ReadObject(ctx, v.bucket, v.chunkKey(coord))
	if err != nil || raw == nil {
		return nil, size, err
	}
	data, err := storage.Decompress(v.meta.codec, raw)
	if err != nil {
		return nil, size, err
	}
	bytesPerVoxel := v.meta.dtype.DataType.Bytes()
	if len(data) != size.Prod()*bytesPerVoxel {
		return nil, size, fmt.Errorf("chunk decoded to %d bytes, expected %d", len(data), size.Prod()*bytesPerVoxel)
	}
	if v.meta.dtype.ByteOrder == binary.BigEndian {
		core.SwapBytes(data, bytesPerVoxel)
	}
	return data, size, nil
}

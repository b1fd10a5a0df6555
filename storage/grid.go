package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/janelia-flyem/n5knossos/core"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockConcurrency is the number of blocks fetched and decoded at once within
// a single z-range read.
const DefaultBlockConcurrency = 10

// BlockFetcher returns the decoded little-endian data of the block at a grid coordinate,
// x varying fastest, along with the block's actual size.  Missing blocks return nil data.
type BlockFetcher func(ctx context.Context, coord core.ChunkPoint3d) (data []byte, size core.Point3d, err error)

// Grid describes a 3d volume stored as a regular grid of blocks.  All coordinates are
// in (x, y, z) order.
type Grid struct {
	VolumeSize  core.Point3d
	BlockSize   core.Point3d
	DataType    core.DataType
	FillValue   uint64
	Concurrency int

	// CacheKey prefixes block cache keys; a cache is only used if this is non-empty.
	CacheKey string
	Cache    *BlockCache
}

// ReadZRange reads every voxel with z in [z0, z1) by fetching all intersecting blocks
// with bounded concurrency.  Each block writes a disjoint region of the subvolume.
func (g Grid) ReadZRange(ctx context.Context, z0, z1 int, fetch BlockFetcher) (*core.Subvolume, error) {
	if z0 < 0 || z1 > g.VolumeSize[2] || z0 >= z1 {
		return nil, fmt.Errorf("bad z range [%d,%d) for volume %s", z0, z1, g.VolumeSize)
	}
	for dim := 0; dim < 3; dim++ {
		if g.BlockSize[dim] <= 0 {
			return nil, fmt.Errorf("bad block size %s", g.BlockSize)
		}
	}
	timedLog := core.NewTimeLog()
	offset := core.Point3d{0, 0, z0}
	size := core.Point3d{g.VolumeSize[0], g.VolumeSize[1], z1 - z0}
	subvol, err := core.NewSubvolume(offset, size, g.DataType)
	if err != nil {
		return nil, err
	}
	subvol.Fill(g.FillValue)

	concurrency := g.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultBlockConcurrency
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	var numBlocks int
	nx := (g.VolumeSize[0] + g.BlockSize[0] - 1) / g.BlockSize[0]
	ny := (g.VolumeSize[1] + g.BlockSize[1] - 1) / g.BlockSize[1]
	for bz := z0 / g.BlockSize[2]; bz*g.BlockSize[2] < z1; bz++ {
		for by := 0; by < ny; by++ {
			for bx := 0; bx < nx; bx++ {
				coord := core.ChunkPoint3d{bx, by, bz}
				numBlocks++
				eg.Go(func() error {
					data, blockSize, err := g.getBlock(ctx, coord, fetch)
					if err != nil {
						return fmt.Errorf("block %s: %w", coord, err)
					}
					if data == nil {
						return nil
					}
					blockOffset := core.Point3d{
						coord[0] * g.BlockSize[0],
						coord[1] * g.BlockSize[1],
						coord[2] * g.BlockSize[2],
					}
					return subvol.CopyBlock(blockOffset, blockSize, data)
				})
			}
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	timedLog.Debugf("Read z [%d,%d) from %d blocks", z0, z1, numBlocks)
	return subvol, nil
}

func (g Grid) getBlock(ctx context.Context, coord core.ChunkPoint3d, fetch BlockFetcher) ([]byte, core.Point3d, error) {
	var key string
	if g.CacheKey != "" && g.Cache != nil {
		key = g.CacheKey + coord.String()
		if data, size, found := g.Cache.Get(key); found {
			return data, size, nil
		}
	}
	data, size, err := fetch(ctx, coord)
	if err != nil {
		return nil, size, err
	}
	if key != "" && data != nil {
		g.Cache.Set(key, data, size)
	}
	return data, size, nil
}

// ReadObject returns the object at key or nil data if it does not exist.
func ReadObject(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

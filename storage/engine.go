/*
	Package storage provides read access to 3d volumes held in chunked array containers.
	Containers are reached through gocloud blob buckets so local directories and cloud
	object stores are handled alike.  Each container format is an Engine that registers
	itself on import and opens a Volume for a named dataset within a bucket.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/janelia-flyem/n5knossos/core"

	"gocloud.dev/blob"
)

var (
	// ErrUnknownEngine is returned when a requested or detected container format has
	// no registered engine.
	ErrUnknownEngine = errors.New("unknown container engine")

	// ErrUnsupportedCompression is returned for block codecs that can't be decoded.
	ErrUnsupportedCompression = errors.New("unsupported compression")
)

// Volume is an n-dimensional array in a container.  Shape is ordered from the slowest
// to the fastest varying axis, so a 3d image volume has shape (z, y, x).
type Volume interface {
	fmt.Stringer

	Shape() []int
	DataType() core.DataType

	// ReadZRange reads all voxels with z in [z0, z1) in one request.  Only valid for
	// volumes with three dimensions.
	ReadZRange(ctx context.Context, z0, z1 int) (*core.Subvolume, error)

	Close() error
}

// Engine is a container format that can open volumes.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// Detect returns true if the dataset within the bucket is stored in this engine's format.
	Detect(ctx context.Context, bucket *blob.Bucket, dataset string) bool

	// OpenVolume opens the dataset.  The bucket remains owned by the caller.
	OpenVolume(ctx context.Context, bucket *blob.Bucket, dataset string, cache *BlockCache) (Volume, error)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine makes a container engine available by name.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[e.GetName()] = e
}

// GetEngine returns the engine registered under the name.
func GetEngine(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[strings.ToLower(name)]
	if !found {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownEngine, name, strings.Join(engineNames(), ", "))
	}
	return e, nil
}

// EnginesAvailable returns a description of the registered engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	var lines []string
	for _, name := range engineNames() {
		e := engines[name]
		lines = append(lines, fmt.Sprintf("%s [%s]: %s", name, e.GetSemVer(), e.GetDescription()))
	}
	return strings.Join(lines, "\n")
}

// must be called while holding enginesMu
func engineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectEngine returns the first registered engine, in name order, that recognizes the dataset.
func DetectEngine(ctx context.Context, bucket *blob.Bucket, dataset string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	for _, name := range engineNames() {
		if e := engines[name]; e.Detect(ctx, bucket, dataset) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: no engine recognizes dataset %q", ErrUnknownEngine, dataset)
}

// Options control how a volume is opened.
type Options struct {
	// Engine is the container format name or empty to detect it.
	Engine string

	// CacheBytes is the size of the shared decoded block cache; 0 disables it.
	CacheBytes int
}

// Open opens a dataset within the container at ref.  Closing the returned volume also
// closes the underlying bucket.
func Open(ctx context.Context, ref, dataset string, opts Options) (Volume, error) {
	bucket, err := OpenBucket(ctx, ref)
	if err != nil {
		return nil, err
	}
	vol, err := OpenFromBucket(ctx, bucket, dataset, opts)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	return &bucketVolume{Volume: vol, bucket: bucket}, nil
}

// OpenFromBucket opens a dataset within an already opened bucket.
func OpenFromBucket(ctx context.Context, bucket *blob.Bucket, dataset string, opts Options) (Volume, error) {
	dataset = strings.Trim(dataset, "/")
	var e Engine
	var err error
	if opts.Engine == "" {
		e, err = DetectEngine(ctx, bucket, dataset)
	} else {
		e, err = GetEngine(opts.Engine)
	}
	if err != nil {
		return nil, err
	}
	core.Infof("Opening dataset %q with %s engine\n", dataset, e.GetName())
	cache := NewBlockCache(opts.CacheBytes)
	vol, err := e.OpenVolume(ctx, bucket, dataset, cache)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		return vol, nil
	}
	return &cachedVolume{Volume: vol, cache: cache}, nil
}

// cachedVolume reports block cache use when closed.
type cachedVolume struct {
	Volume
	cache *BlockCache
}

func (v *cachedVolume) Close() error {
	v.cache.LogStats()
	return v.Volume.Close()
}

type bucketVolume struct {
	Volume
	bucket *blob.Bucket
}

func (v *bucketVolume) Close() error {
	err := v.Volume.Close()
	if err2 := v.bucket.Close(); err == nil {
		err = err2
	}
	return err
}

// Key joins a dataset path and a relative key into a bucket key.
func Key(dataset string, parts ...string) string {
	if dataset == "" {
		return strings.Join(parts, "/")
	}
	return dataset + "/" + strings.Join(parts, "/")
}

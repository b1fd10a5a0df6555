package storage

import (
	"bytes"
	"testing"

	"github.com/janelia-flyem/n5knossos/core"
)

func TestBlockCache(t *testing.T) {
	if NewBlockCache(0) != nil {
		t.Fatalf("expected nil cache for zero size\n")
	}
	var nilCache *BlockCache
	nilCache.Set("a", []byte{1}, core.Point3d{1, 1, 1})
	if _, _, found := nilCache.Get("a"); found {
		t.Fatalf("nil cache should never find a block\n")
	}

	c := NewBlockCache(1 << 20)
	data := bytes.Repeat([]byte{7, 8, 9, 10}, 1000)
	size := core.Point3d{10, 20, 5}
	c.Set("block", data, size)

	got, gotSize, found := c.Get("block")
	if !found {
		t.Fatalf("expected cached block\n")
	}
	if gotSize != size {
		t.Errorf("expected size %s, got %s\n", size, gotSize)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("cached data differs from stored data\n")
	}
	if _, _, found := c.Get("other"); found {
		t.Errorf("found a block that was never stored\n")
	}
	attempts, hits := c.Stats()
	if attempts != 2 || hits != 1 {
		t.Errorf("expected 2 attempts and 1 hit, got %d and %d\n", attempts, hits)
	}
}

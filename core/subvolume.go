package core

import (
	"encoding/binary"
	"fmt"
)

// Subvolume is a box of voxels read from a volume.  Offset and Size are in (x, y, z)
// order and Data holds little-endian samples with x varying fastest.
type Subvolume struct {
	Offset   Point3d
	Size     Point3d
	DataType DataType
	Data     []byte
}

// NewSubvolume allocates a zeroed subvolume of the given geometry.
func NewSubvolume(offset, size Point3d, dt DataType) (*Subvolume, error) {
	bytesPerVoxel := dt.Bytes()
	if bytesPerVoxel == 0 {
		return nil, fmt.Errorf("can't allocate subvolume of data type %s", dt)
	}
	for dim := 0; dim < 3; dim++ {
		if size[dim] < 0 {
			return nil, fmt.Errorf("bad subvolume size %s", size)
		}
	}
	return &Subvolume{
		Offset:   offset,
		Size:     size,
		DataType: dt,
		Data:     make([]byte, size.Prod()*bytesPerVoxel),
	}, nil
}

func (s *Subvolume) String() string {
	return fmt.Sprintf("subvolume %s %s @ offset %s", s.DataType, s.Size, s.Offset)
}

// PlaneBytes returns the number of bytes in one z plane.
func (s *Subvolume) PlaneBytes() int {
	return s.Size[0] * s.Size[1] * s.DataType.Bytes()
}

// Plane returns the bytes of the xy plane at absolute z without copying.
func (s *Subvolume) Plane(z int) ([]byte, error) {
	rel := z - s.Offset[2]
	if rel < 0 || rel >= s.Size[2] {
		return nil, fmt.Errorf("z %d outside of %s", z, s)
	}
	n := s.PlaneBytes()
	return s.Data[rel*n : (rel+1)*n], nil
}

// CopyBlock copies the part of a block that intersects the subvolume.  The block data
// must be little-endian samples of the subvolume's data type with x varying fastest.
func (s *Subvolume) CopyBlock(blockOffset, blockSize Point3d, data []byte) error {
	bytesPerVoxel := s.DataType.Bytes()
	if len(data) < blockSize.Prod()*bytesPerVoxel {
		return fmt.Errorf("block %s @ %s has %d bytes, expected %d", blockSize, blockOffset,
			len(data), blockSize.Prod()*bytesPerVoxel)
	}
	var beg, end Point3d
	for dim := 0; dim < 3; dim++ {
		beg[dim] = max(blockOffset[dim], s.Offset[dim])
		end[dim] = min(blockOffset[dim]+blockSize[dim], s.Offset[dim]+s.Size[dim])
		if beg[dim] >= end[dim] {
			return nil
		}
	}
	rowBytes := (end[0] - beg[0]) * bytesPerVoxel
	for z := beg[2]; z < end[2]; z++ {
		for y := beg[1]; y < end[1]; y++ {
			src := ((z-blockOffset[2])*blockSize[1]*blockSize[0] + (y-blockOffset[1])*blockSize[0] +
				(beg[0] - blockOffset[0])) * bytesPerVoxel
			dst := ((z-s.Offset[2])*s.Size[1]*s.Size[0] + (y-s.Offset[1])*s.Size[0] +
				(beg[0] - s.Offset[0])) * bytesPerVoxel
			copy(s.Data[dst:dst+rowBytes], data[src:src+rowBytes])
		}
	}
	return nil
}

// Fill sets every sample to the given value, used for container fill values.
func (s *Subvolume) Fill(value uint64) {
	if value == 0 {
		clear(s.Data)
		return
	}
	n := s.DataType.Bytes()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	for i := 0; i+n <= len(s.Data); i += n {
		copy(s.Data[i:i+n], buf[:n])
	}
}

// SwapBytes converts samples of the given width between big and little endian in place.
func SwapBytes(data []byte, bytesPerValue int) {
	switch bytesPerValue {
	case 2:
		for i := 0; i+1 < len(data); i += 2 {
			data[i], data[i+1] = data[i+1], data[i]
		}
	case 4:
		for i := 0; i+3 < len(data); i += 4 {
			data[i], data[i+1], data[i+2], data[i+3] = data[i+3], data[i+2], data[i+1], data[i]
		}
	case 8:
		for i := 0; i+7 < len(data); i += 8 {
			for j := 0; j < 4; j++ {
				data[i+j], data[i+7-j] = data[i+7-j], data[i+j]
			}
		}
	}
}

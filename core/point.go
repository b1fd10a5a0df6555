package core

import "fmt"

// Point3d is an ordered 3d point in (x, y, z) order, matching the convention used
// for block coordinates throughout the container formats.
type Point3d [3]int

func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}

// Prod returns the product of the point elements.
func (p Point3d) Prod() int {
	return p[0] * p[1] * p[2]
}

// Min returns a Point3d where each element is the minimum of the two points' elements.
func (p Point3d) Min(p2 Point3d) Point3d {
	m := p
	for i := range m {
		if p2[i] < m[i] {
			m[i] = p2[i]
		}
	}
	return m
}

// ChunkPoint3d is a 3d block coordinate in (x, y, z) order.
type ChunkPoint3d [3]int

func (c ChunkPoint3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2])
}

/*
	Package core provides types, constants, and functions that have no other dependencies
	within n5knossos and are shared by the storage engines, the slice extractor, and the
	command-line tool.  This includes leveled logging, voxel data types, subvolumes read from
	a container, and the image formats used for exported slices.
*/
package core

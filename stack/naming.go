package stack

import (
	"fmt"
	"strconv"
)

// PadWidth returns the number of digits used for slice indices of a volume with the
// given z extent, which is the number of decimal digits in the extent itself.
func PadWidth(extent int) int {
	if extent <= 0 {
		return 1
	}
	return len(strconv.Itoa(extent))
}

// SliceName returns the file name for slice z, e.g., SliceName(7, 12, "png") is "07.png".
func SliceName(z, extent int, ext string) string {
	return fmt.Sprintf("%0*d.%s", PadWidth(extent), z, ext)
}

package zarr

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/n5knossos/core"
)

// Dtype is a parsed NumPy typestr such as "<u2": byte order, basic type and byte size.
type Dtype struct {
	ByteOrder binary.ByteOrder
	DataType  core.DataType
}

// ParseDtype parses the simple (non-structured) dtypes usable for image volumes.
func ParseDtype(s string) (dt Dtype, err error) {
	// bug in some python serializers uses HTML escape sequences
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)
	if len(s) < 3 {
		return dt, fmt.Errorf("invalid dtype string. %q is too short", s)
	}
	switch s[0] {
	case '<', '|':
		dt.ByteOrder = binary.LittleEndian
	case '>':
		dt.ByteOrder = binary.BigEndian
	default:
		return dt, fmt.Errorf("invalid dtype byte order in %q", s)
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return dt, fmt.Errorf("invalid dtype size in %q", s)
	}
	name := map[byte]string{'u': "uint", 'i': "int", 'f': "float"}[s[1]]
	if name == "" {
		return dt, fmt.Errorf("unsupported dtype %q", s)
	}
	dt.DataType, err = core.ParseDataType(fmt.Sprintf("%s%d", name, size*8))
	if err != nil {
		return dt, fmt.Errorf("unsupported dtype %q", s)
	}
	return dt, nil
}

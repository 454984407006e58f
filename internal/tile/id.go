// Package tile defines output tile identifiers and the Pacific tiling grid.
package tile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ID identifies a tile by its row and column in the output grid. Its text
// form is a bracketed pair, e.g. "[12,345]".
type ID struct {
	Row int
	Col int
}

// ParseID parses "[row,col]". Whitespace around the numbers is allowed;
// anything else is an error.
func ParseID(s string) (ID, error) {
	t := strings.TrimSpace(s)
	if len(t) < 2 || t[0] != '[' || t[len(t)-1] != ']' {
		return ID{}, eris.Errorf("tile: id %q must be of the form [row,col]", s)
	}
	parts := strings.Split(t[1:len(t)-1], ",")
	if len(parts) != 2 {
		return ID{}, eris.Errorf("tile: id %q must have exactly two components", s)
	}
	row, err := parseComponent(parts[0])
	if err != nil {
		return ID{}, eris.Wrapf(err, "tile: id %q row", s)
	}
	col, err := parseComponent(parts[1])
	if err != nil {
		return ID{}, eris.Wrapf(err, "tile: id %q col", s)
	}
	return ID{Row: row, Col: col}, nil
}

// parseComponent accepts only what String produces: an optional minus sign
// and digits.
func parseComponent(s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+") {
		return 0, eris.Errorf("explicit plus sign in %q", s)
	}
	return strconv.Atoi(s)
}

func (id ID) String() string {
	return fmt.Sprintf("[%d,%d]", id.Row, id.Col)
}

// Path returns the zero-padded "rrr/ccc" form used in storage keys.
func (id ID) Path() string {
	return fmt.Sprintf("%03d/%03d", id.Row, id.Col)
}

// Slug returns the zero-padded "rrr_ccc" form used in file names.
func (id ID) Slug() string {
	return fmt.Sprintf("%03d_%03d", id.Row, id.Col)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Less orders ids by row then column.
func (id ID) Less(o ID) bool {
	if id.Row != o.Row {
		return id.Row < o.Row
	}
	return id.Col < o.Col
}

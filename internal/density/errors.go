package density

import (
	"errors"
	"fmt"

	"github.com/sells-group/dep-population/internal/raster"
)

// ErrNoContributions is returned by Composite when no territory produced a
// density raster for the tile.
var ErrNoContributions = errors.New("density: no contributing rasters")

// DomainError reports a raster whose coordinate reference cannot be
// classified as geographic or projected.
type DomainError struct {
	CRS string
	Err error
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("density: unsupported coordinate reference %q: %v", e.CRS, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ShapeMismatchError reports an input raster whose grid differs from the
// tile grid it is being composited onto.
type ShapeMismatchError struct {
	Index int
	Want  raster.Grid
	Got   raster.Grid
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("density: raster %d grid %s does not match tile grid %s", e.Index, e.Got, e.Want)
}

// IsDomainError reports whether err wraps a DomainError.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

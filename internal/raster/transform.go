package raster

import (
	"math"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

// Transformer converts coordinates between two references.
type Transformer struct {
	identity bool
	fn       proj.Transformer
}

// NewTransformer returns a transformer from one reference to another. Equal
// references yield an identity transformer without touching the projection
// library.
func NewTransformer(from, to string) (*Transformer, error) {
	if from == to {
		return &Transformer{identity: true}, nil
	}
	src, err := SpatialReference(from)
	if err != nil {
		return nil, err
	}
	dst, err := SpatialReference(to)
	if err != nil {
		return nil, err
	}
	fn, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: transform %s -> %s", from, to)
	}
	return &Transformer{fn: fn}, nil
}

// Identity reports whether the transformer leaves coordinates unchanged.
func (t *Transformer) Identity() bool {
	return t.identity
}

// Point transforms a single coordinate.
func (t *Transformer) Point(x, y float64) (float64, float64, error) {
	if t.identity {
		return x, y, nil
	}
	return t.fn(x, y)
}

// Bounds transforms an extent by sampling densify points along each edge and
// returning the extent of the transformed samples. Samples that fail to
// transform are skipped; an error is returned only if none succeed.
func (t *Transformer) Bounds(b Bounds, densify int) (Bounds, error) {
	if t.identity {
		return b, nil
	}
	if densify < 1 {
		densify = 1
	}
	out := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	ok := false
	add := func(x, y float64) {
		tx, ty, err := t.fn(x, y)
		if err != nil || math.IsNaN(tx) || math.IsNaN(ty) || math.IsInf(tx, 0) || math.IsInf(ty, 0) {
			return
		}
		out.MinX = math.Min(out.MinX, tx)
		out.MinY = math.Min(out.MinY, ty)
		out.MaxX = math.Max(out.MaxX, tx)
		out.MaxY = math.Max(out.MaxY, ty)
		ok = true
	}
	for i := 0; i <= densify; i++ {
		f := float64(i) / float64(densify)
		x := b.MinX + f*(b.MaxX-b.MinX)
		y := b.MinY + f*(b.MaxY-b.MinY)
		add(x, b.MinY)
		add(x, b.MaxY)
		add(b.MinX, y)
		add(b.MaxX, y)
	}
	if !ok {
		return Bounds{}, eris.New("raster: no bounds samples could be transformed")
	}
	return out, nil
}

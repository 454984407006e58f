package output

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gocloud.dev/gcerrors"

	"github.com/sells-group/dep-population/internal/density"
	"github.com/sells-group/dep-population/internal/geotiff"
	"github.com/sells-group/dep-population/internal/tile"
)

// Band is the name of the single output band.
const Band = "pop_per_sqkm"

// OpenBucket opens a bucket URL such as "s3://dep-public-staging?region=us-west-2",
// "file:///tmp/out" or "mem://".
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, eris.Wrapf(err, "output: open bucket %s", bucketURL)
	}
	return b, nil
}

// Writer stores tiles and STAC items in a bucket. It is safe for concurrent
// use.
type Writer struct {
	bucket *blob.Bucket
	path   ItemPath
}

// NewWriter creates a Writer over an open bucket.
func NewWriter(bucket *blob.Bucket, path ItemPath) *Writer {
	return &Writer{bucket: bucket, path: path}
}

// Path returns the writer's key naming.
func (w *Writer) Path() ItemPath {
	return w.path
}

// WriteTile encodes the tile as a GeoTIFF and uploads it. It returns the
// object key.
func (w *Writer) WriteTile(ctx context.Context, id tile.ID, t *density.CompositeTile) (string, error) {
	var buf bytes.Buffer
	if err := geotiff.Encode(&buf, t.Grid, t.Float32()); err != nil {
		return "", eris.Wrapf(err, "output: encode tile %s", id)
	}
	key := w.path.AssetKey(id, Band)
	if err := w.put(ctx, key, buf.Bytes(), "image/tiff; application=geotiff"); err != nil {
		return "", err
	}
	zap.L().Debug("output: tile written", zap.String("tile_id", id.String()), zap.String("key", key), zap.Int("bytes", buf.Len()))
	return key, nil
}

// WriteItem uploads a STAC item. It returns the object key.
func (w *Writer) WriteItem(ctx context.Context, id tile.ID, item *Item) (string, error) {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "output: marshal item %s", id)
	}
	key := w.path.STACKey(id)
	if err := w.put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// ItemExists reports whether the STAC item of a tile has been written.
func (w *Writer) ItemExists(ctx context.Context, id tile.ID) (bool, error) {
	key := w.path.STACKey(id)
	ok, err := w.bucket.Exists(ctx, key)
	if err != nil {
		return false, eris.Wrapf(err, "output: check %s", key)
	}
	return ok, nil
}

// ReadItem fetches and decodes a tile's STAC item. It returns nil, nil when
// the item does not exist.
func (w *Writer) ReadItem(ctx context.Context, id tile.ID) (*Item, error) {
	key := w.path.STACKey(id)
	data, err := w.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "output: read %s", key)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, eris.Wrapf(err, "output: decode %s", key)
	}
	return &item, nil
}

// Close releases the bucket.
func (w *Writer) Close() error {
	return w.bucket.Close()
}

func (w *Writer) put(ctx context.Context, key string, data []byte, contentType string) error {
	bw, err := w.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return eris.Wrapf(err, "output: create writer for %s", key)
	}
	if _, err := bw.Write(data); err != nil {
		_ = bw.Close()
		return eris.Wrapf(err, "output: write %s", key)
	}
	if err := bw.Close(); err != nil {
		return eris.Wrapf(err, "output: close %s", key)
	}
	return nil
}

// Package output names, encodes and stores finished density tiles and their
// STAC metadata.
package output

import (
	"fmt"
	"strings"

	"github.com/sells-group/dep-population/internal/tile"
)

// ItemPath builds storage keys for a dataset version. Keys have the form
// <prefix>_<sensor>_<dataset>/<version>/<rrr>/<ccc>/<time>/<basename>...
type ItemPath struct {
	Bucket    string
	Prefix    string // "dep"
	Sensor    string
	DatasetID string
	Version   string // dots become dashes in keys
	Time      string
}

// DefaultItemPath is the published Pacific population dataset.
func DefaultItemPath() ItemPath {
	return ItemPath{
		Bucket:    "dep-public-staging",
		Prefix:    "dep",
		Sensor:    "pdhhdx",
		DatasetID: "population",
		Version:   "0.1.1",
		Time:      "2023_2025",
	}
}

// ItemPrefix returns "<prefix>_<sensor>_<dataset>".
func (p ItemPath) ItemPrefix() string {
	return fmt.Sprintf("%s_%s_%s", p.Prefix, p.Sensor, p.DatasetID)
}

// Folder returns the key directory holding a tile's files.
func (p ItemPath) Folder(id tile.ID) string {
	return fmt.Sprintf("%s/%s/%s/%s", p.ItemPrefix(), strings.ReplaceAll(p.Version, ".", "-"), id.Path(), p.Time)
}

// Basename returns the file stem shared by a tile's files. It doubles as the
// STAC item id.
func (p ItemPath) Basename(id tile.ID) string {
	return fmt.Sprintf("%s_%s_%s", p.ItemPrefix(), id.Slug(), p.Time)
}

// AssetKey returns the key of a tile's GeoTIFF for one band.
func (p ItemPath) AssetKey(id tile.ID, band string) string {
	return fmt.Sprintf("%s/%s_%s.tif", p.Folder(id), p.Basename(id), band)
}

// STACKey returns the key of a tile's STAC item.
func (p ItemPath) STACKey(id tile.ID) string {
	return fmt.Sprintf("%s/%s.stac-item.json", p.Folder(id), p.Basename(id))
}

// URL returns the s3 URL of key. Without a bucket the key is returned as is.
func (p ItemPath) URL(key string) string {
	if p.Bucket == "" {
		return key
	}
	return fmt.Sprintf("s3://%s/%s", p.Bucket, key)
}

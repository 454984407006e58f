package boundary

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/fetcher"
)

// ResolveShapefile returns a local .shp path for location, which is either a
// local .shp/.zip path or an http(s) URL of a zipped shapefile. Remote
// archives are downloaded into cacheDir and reused while present.
func ResolveShapefile(ctx context.Context, f fetcher.Fetcher, location, cacheDir string) (string, error) {
	u, err := url.Parse(location)
	remote := err == nil && (u.Scheme == "http" || u.Scheme == "https")

	if !remote {
		switch strings.ToLower(filepath.Ext(location)) {
		case ".shp":
			return location, nil
		case ".zip":
			return unpackShapefile(location, cacheDir)
		default:
			return "", eris.Errorf("boundary: unsupported boundary file %s", location)
		}
	}

	log := zap.L().With(zap.String("component", "boundary.download"), zap.String("url", location))
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", eris.Wrap(err, "boundary: create cache dir")
	}

	zipPath := filepath.Join(cacheDir, path.Base(u.Path))
	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("boundary archive already present, skipping download", zap.String("path", zipPath))
	} else {
		log.Info("downloading boundary shapefile")
		if _, err := f.DownloadToFile(ctx, location, zipPath); err != nil {
			return "", eris.Wrap(err, "boundary: download shapefile")
		}
	}
	return unpackShapefile(zipPath, cacheDir)
}

func unpackShapefile(zipPath, cacheDir string) (string, error) {
	extractDir := filepath.Join(cacheDir, strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath)))
	if shpPath, err := fetcher.FindFileByExt(extractDir, ".shp"); err == nil {
		return shpPath, nil
	}
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "boundary: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "boundary: extract archive")
	}
	shpPath, err := fetcher.FindFileByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "boundary: find .shp file")
	}
	return shpPath, nil
}

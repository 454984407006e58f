package source

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/dep-population/internal/fetcher"
	"github.com/sells-group/dep-population/internal/geotiff"
	"github.com/sells-group/dep-population/internal/raster"
	"github.com/sells-group/dep-population/internal/resilience"
)

// RetrieverOptions configures a Retriever.
type RetrieverOptions struct {
	TempDir string // Parent of the per-run download directory; empty = os.TempDir()
	Retry   resilience.RetryConfig
}

// Retriever downloads and decodes territory count rasters. Downloads live in
// a per-run directory that Close removes.
type Retriever struct {
	reg     *Registry
	fetcher fetcher.Fetcher
	dir     string
	retry   resilience.RetryConfig
	group   singleflight.Group
}

// NewRetriever creates the run's download directory.
func NewRetriever(reg *Registry, f fetcher.Fetcher, opts RetrieverOptions) (*Retriever, error) {
	if reg == nil {
		return nil, eris.New("source: registry is required")
	}
	if f == nil {
		return nil, eris.New("source: fetcher is required")
	}
	if opts.TempDir != "" {
		if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "source: create temp dir %s", opts.TempDir)
		}
	}
	dir, err := os.MkdirTemp(opts.TempDir, "dep-population-")
	if err != nil {
		return nil, eris.Wrap(err, "source: create run dir")
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("source.retriever", "download")
	}
	return &Retriever{reg: reg, fetcher: f, dir: dir, retry: retry}, nil
}

// Registry returns the registry the retriever resolves codes against.
func (r *Retriever) Registry() *Registry {
	return r.reg
}

// Dir returns the run's download directory.
func (r *Retriever) Dir() string {
	return r.dir
}

// Close removes every file downloaded during the run.
func (r *Retriever) Close() error {
	if err := os.RemoveAll(r.dir); err != nil {
		return eris.Wrapf(err, "source: remove run dir %s", r.dir)
	}
	return nil
}

// FetchCounts returns the population-count raster for a territory. It returns
// nil, nil when no source is registered for the code. Concurrent calls for
// the same code share one download.
func (r *Retriever) FetchCounts(ctx context.Context, code string) (*raster.Raster, error) {
	loc, ok := r.reg.Lookup(code)
	if !ok {
		zap.L().Debug("source: no registered source", zap.String("territory", code))
		return nil, nil
	}

	v, err, _ := r.group.Do(loc.Code, func() (any, error) {
		return r.fetch(ctx, loc)
	})
	if err != nil {
		return nil, err
	}
	// Each caller gets its own copy.
	return v.(*raster.Raster).Clone(), nil
}

func (r *Retriever) fetch(ctx context.Context, loc Location) (*raster.Raster, error) {
	log := zap.L().With(
		zap.String("component", "source.retriever"),
		zap.String("territory", loc.Code),
		zap.String("url", loc.URL),
	)

	workDir, err := os.MkdirTemp(r.dir, strings.ToLower(loc.Code)+"-")
	if err != nil {
		return nil, eris.Wrap(err, "source: create download dir")
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	start := time.Now()
	dest := filepath.Join(workDir, downloadName(loc))
	n, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (int64, error) {
		return r.fetcher.DownloadToFile(ctx, loc.URL, dest)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: download %s", loc.Code)
	}
	log.Info("source downloaded", zap.Int64("bytes", n), zap.Duration("duration", time.Since(start)))

	tifPath := dest
	if loc.IsZIP() {
		tifPath, err = fetcher.ExtractZIPFile(dest, loc.Member, filepath.Join(workDir, "unzipped"))
		if err != nil {
			return nil, eris.Wrapf(err, "source: extract %s from %s", loc.Member, loc.Code)
		}
	}

	counts, err := geotiff.DecodeFile(tifPath)
	if err != nil {
		return nil, eris.Wrapf(err, "source: decode %s", loc.Code)
	}
	log.Debug("source decoded",
		zap.Stringer("grid", counts.Grid),
		zap.Int("valid_cells", counts.ValidCount()),
	)
	return counts, nil
}

// downloadName picks a local file name that keeps the URL's extension.
func downloadName(loc Location) string {
	base := path.Base(loc.URL)
	ext := strings.ToLower(path.Ext(base))
	switch ext {
	case ".zip", ".tif", ".tiff":
	default:
		ext = ".tif"
	}
	return strings.ToLower(loc.Code) + ext
}

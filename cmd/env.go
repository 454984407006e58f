package main

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dep-population/internal/boundary"
	"github.com/sells-group/dep-population/internal/db"
	"github.com/sells-group/dep-population/internal/fetcher"
	"github.com/sells-group/dep-population/internal/output"
	"github.com/sells-group/dep-population/internal/pipeline"
	"github.com/sells-group/dep-population/internal/resilience"
	"github.com/sells-group/dep-population/internal/source"
	"github.com/sells-group/dep-population/internal/store"
	"github.com/sells-group/dep-population/internal/tile"
)

// tileEnv holds everything the run, batch and print-ids commands need.
type tileEnv struct {
	Lookup    tile.Intersector
	Retriever *source.Retriever
	Writer    *output.Writer
	Store     store.Store // nil when the ledger is disabled
	Processor *pipeline.Processor

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *tileEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initEnv validates the config and builds the lookup, writer, retriever,
// ledger and processor. withSources false skips the retriever and processor
// for commands that only list tiles. Callers should defer env.Close().
func initEnv(ctx context.Context, withSources bool) (*tileEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &tileEnv{}
	f := newFetcher(nil)

	lookup, closeLookup, err := initLookup(ctx, f)
	if err != nil {
		return nil, err
	}
	env.Lookup = lookup
	env.closers = append(env.closers, closeLookup)

	bucket, err := output.OpenBucket(ctx, cfg.Dataset.Destination)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Writer = output.NewWriter(bucket, itemPath())
	env.closers = append(env.closers, env.Writer.Close)

	if !withSources {
		return env, nil
	}

	reg, err := source.LoadRegistry(cfg.Sources.Registry)
	if err != nil {
		env.Close()
		return nil, err
	}
	retriever, err := source.NewRetriever(reg, newFetcher(reg), source.RetrieverOptions{
		TempDir: cfg.Sources.TempDir,
		Retry:   resilience.DefaultRetryConfig(),
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Retriever = retriever
	env.closers = append(env.closers, retriever.Close)

	st, err := initStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	var ledger pipeline.Ledger
	if st != nil {
		env.Store = st
		env.closers = append(env.closers, st.Close)
		ledger = st
	}

	proc, err := pipeline.New(pipeline.Options{
		Spec:     cfg.Grid,
		Lookup:   env.Lookup,
		Source:   env.Retriever,
		Writer:   env.Writer,
		Ledger:   ledger,
		ItemPath: itemPath(),
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Processor = proc
	return env, nil
}

// newFetcher builds the HTTP fetcher. When a registry is given and a rate
// limit is configured, every source host gets its own limiter.
func newFetcher(reg *source.Registry) *fetcher.HTTPFetcher {
	opts := fetcher.HTTPOptions{
		UserAgent:  cfg.Sources.UserAgent,
		Timeout:    time.Duration(cfg.Sources.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Sources.MaxRetries,
	}
	if reg != nil && cfg.Sources.RateLimit > 0 {
		opts.RateLimiters = make(map[string]*rate.Limiter)
		for _, loc := range reg.Locations() {
			u, err := url.Parse(loc.URL)
			if err != nil || u.Host == "" {
				continue
			}
			if _, ok := opts.RateLimiters[u.Host]; !ok {
				opts.RateLimiters[u.Host] = rate.NewLimiter(rate.Limit(cfg.Sources.RateLimit), 1)
			}
		}
	}
	return fetcher.NewHTTPFetcher(opts)
}

// initLookup opens the configured territory boundaries.
func initLookup(ctx context.Context, f fetcher.Fetcher) (tile.Intersector, func() error, error) {
	b := cfg.Boundaries
	switch b.Driver {
	case "shapefile":
		path, err := boundary.ResolveShapefile(ctx, f, b.Path, b.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		l, err := boundary.LoadShapefile(path, boundary.ShapefileOptions{CodeField: b.CodeField})
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("boundaries loaded", zap.String("path", path), zap.Int("territories", len(l.Codes())))
		return l, func() error { return nil }, nil
	case "postgis":
		pool, err := db.Connect(ctx, b.DatabaseURL, &db.PoolConfig{MaxConns: b.MaxConns})
		if err != nil {
			return nil, nil, eris.Wrap(err, "connect boundaries database")
		}
		l, err := boundary.NewPostGISLookup(pool, b.Table, b.CodeField)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return l, func() error { pool.Close(); return nil }, nil
	default:
		return nil, nil, eris.Errorf("unsupported boundaries driver: %s", b.Driver)
	}
}

// initStore opens and migrates the task ledger. It returns nil for the
// "none" driver.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func itemPath() output.ItemPath {
	d := cfg.Dataset
	return output.ItemPath{
		Bucket:    d.Bucket,
		Prefix:    d.Prefix,
		Sensor:    d.Sensor,
		DatasetID: d.DatasetID,
		Version:   d.Version,
		Time:      d.Datetime,
	}
}

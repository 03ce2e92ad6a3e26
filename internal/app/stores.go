package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"wireframe/internal/artifact"
	"wireframe/internal/config"
	"wireframe/internal/model"
	"wireframe/internal/raster"
	"wireframe/internal/runlog"
	"wireframe/internal/vectorize"
)

// chooseArtifactStore builds origin -> retry -> cache.
func chooseArtifactStore(cfg *config.Config) (artifact.Store, error) {
	var origin artifact.Store
	switch cfg.Artifact.Backend {
	case "memory":
		origin = artifact.NewMemoryStore()
		log.Printf("artifact store: in-memory")
	case "disk":
		origin = artifact.NewDiskStore(cfg.Artifact.Root)
		log.Printf("artifact store: disk root=%s", cfg.Artifact.Root)
	case "s3":
		s3Cfg := artifact.S3Config{
			Endpoint:  cfg.Artifact.S3.Endpoint,
			Region:    cfg.Artifact.S3.Region,
			AccessKey: cfg.Artifact.S3.AccessKey,
			SecretKey: cfg.Artifact.S3.SecretKey,
			Bucket:    cfg.Artifact.S3.Bucket,
			UseSSL:    cfg.Artifact.S3.UseSSL,
		}
		s3Store, err := artifact.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
		}
		log.Printf("artifact store: s3 bucket=%s endpoint=%s", s3Cfg.Bucket, s3Cfg.Endpoint)
		origin = s3Store
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Artifact.Backend)
	}

	store := origin
	if cfg.Artifact.Retry.Attempts > 1 {
		store = artifact.NewRetryStore(store, cfg.Artifact.Retry.Attempts, cfg.Artifact.Retry.BaseDelay)
	}
	if cfg.Artifact.Cache.Enabled {
		store = artifact.NewCachedStore(store, artifact.CacheConfig{
			TTL:        cfg.Artifact.Cache.TTL,
			MaxEntries: cfg.Artifact.Cache.MaxEntries,
			MaxBytes:   cfg.Artifact.Cache.MaxBytes,
		})
	}
	return store, nil
}

func chooseTransformer(cfg *config.Config) raster.Transformer {
	if cfg.Transform.Backend == "native" {
		log.Printf("raster transformer: native")
		return raster.NewNative()
	}
	g := raster.NewGDAL()
	g.TranslateBin = firstNonEmpty(cfg.Transform.TranslateBin, g.TranslateBin)
	g.DemBin = firstNonEmpty(cfg.Transform.DemBin, g.DemBin)
	g.InfoBin = firstNonEmpty(cfg.Transform.InfoBin, g.InfoBin)
	g.TempRoot = firstNonEmpty(cfg.Run.ScratchDir, g.TempRoot)
	log.Printf("raster transformer: gdal translate=%s", firstNonEmpty(g.TranslateBin, "gdal_translate"))
	return g
}

func chooseLoader(cfg *config.Config, store artifact.Store) model.Loader {
	if cfg.Model.Backend == "fake" {
		log.Printf("models: fake predictors")
		return model.FakeLoader{}
	}
	return model.NewCommandLoader(store, cfg.Model.Command, cfg.Run.ScratchDir)
}

func chooseConverter(cfg *config.Config) vectorize.Converter {
	if cfg.Convert.Backend == "fake" {
		log.Printf("vectorize: fake converter")
		return vectorize.Fake{}
	}
	return vectorize.NewCommandConverter(cfg.Convert.Command)
}

func chooseRunLog(ctx context.Context, cfg *config.Config, store artifact.Store) (runlog.Store, func() error, error) {
	switch cfg.RunLog.Backend {
	case "memory":
		return runlog.NewMemoryStore(), nil, nil
	case "artifact":
		return runlog.NewArtifactStore(store, cfg.Run.SaveDir), nil, nil
	case "postgres":
		pg, err := runlog.NewPostgres(ctx, cfg.RunLog.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open run log db: %w", err)
		}
		log.Printf("run log: postgres")
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown runlog backend %q", cfg.RunLog.Backend)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

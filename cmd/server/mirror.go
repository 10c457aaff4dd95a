package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"capflag.ai/internal/persistence/objstore"
)

type mirrorRuntime struct {
	enabled      bool
	rotateLayout string
	mirror       *objstore.Mirror
}

func buildMirrorRuntime(dataDir string, logger *log.Logger) (*mirrorRuntime, error) {
	if !envBool("CAPFLAG_MIRROR", false) {
		return &mirrorRuntime{}, nil
	}

	cfg := objstore.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("CAPFLAG_S3_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("CAPFLAG_S3_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("CAPFLAG_S3_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("CAPFLAG_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("CAPFLAG_S3_SECRET_ACCESS_KEY")),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("CAPFLAG_MIRROR=true but CAPFLAG_S3_ENDPOINT/CAPFLAG_S3_BUCKET/CAPFLAG_S3_ACCESS_KEY_ID/CAPFLAG_S3_SECRET_ACCESS_KEY are not fully set")
	}
	client, err := objstore.New(cfg)
	if err != nil {
		return nil, err
	}

	return &mirrorRuntime{
		enabled:      true,
		rotateLayout: "2006-01-02-15-04", // 1-minute segments
		mirror: objstore.NewMirror(client, objstore.MirrorConfig{
			DataDir: dataDir,
			Prefix:  strings.TrimSpace(os.Getenv("CAPFLAG_S3_PREFIX")),
			Workers: envInt("CAPFLAG_UPLOAD_WORKERS", 2),
			Logger:  logger,
		}),
	}, nil
}

func (r *mirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *mirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *mirrorRuntime) Stats() (objstore.Stats, bool) {
	if r == nil || !r.enabled {
		return objstore.Stats{}, false
	}
	return r.mirror.Stats(), true
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

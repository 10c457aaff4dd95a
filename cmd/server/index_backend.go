package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"capflag.ai/internal/persistence/indexdb"
)

func openRuntimeIndex(dataDir, serverID string, disableDB bool, logger *log.Logger) (indexdb.Index, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CAPFLAG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "matches.sqlite")
		return indexdb.OpenSQLite(dbPath, logger)
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("CAPFLAG_INDEX_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("CAPFLAG_INDEX_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("CAPFLAG_INDEX_BACKEND=remote but CAPFLAG_INDEX_INGEST_URL is empty")
		}
		flushMS := envInt("CAPFLAG_INDEX_FLUSH_MS", 500)
		batchSize := envInt("CAPFLAG_INDEX_BATCH_SIZE", 128)
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         token,
			Source:        serverID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported CAPFLAG_INDEX_BACKEND: %s", backend)
	}
}

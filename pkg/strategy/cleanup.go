package strategy

import (
	"context"
	"strings"

	cachepkg "github.com/pario-ai/edgeworker/pkg/cache/sqlite"
	"github.com/pario-ai/edgeworker/pkg/models"
)

// ClearOldCaches deletes every stored cache that belongs to one of names but
// carries none of the keep versions. Caches with other names are kept.
// It returns the deleted cache names.
func ClearOldCaches(ctx context.Context, storage *cachepkg.Storage, names []string, keep ...string) ([]string, error) {
	current := make(map[string]bool, len(names)*len(keep))
	for _, n := range names {
		for _, v := range keep {
			current[models.VersionedCacheName(n, v)] = true
		}
	}

	keys, err := storage.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, key := range keys {
		if current[key] || !belongsTo(key, names) {
			continue
		}
		if _, err := storage.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

func belongsTo(key string, names []string) bool {
	for _, n := range names {
		if key == n || strings.HasPrefix(key, n+"-") {
			return true
		}
	}
	return false
}

package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/testutil"
)

// For any capacity and number of saves, shard counts never exceed the
// capacity, they sum to the number of saves, and exactly one shard is current.
func TestProperty_ShardRollover(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("shard_counts_bounded_and_complete", prop.ForAll(
		func(maxFiles int, saves int) bool {
			db := testutil.NewDB(t)
			store, err := NewShardedStore(db, Config{
				Root:           t.TempDir(),
				MaxFilesPerDir: maxFiles,
				Logger:         logger.Discard(),
			})
			if err != nil {
				return false
			}

			ctx := context.Background()
			for i := 0; i < saves; i++ {
				if _, err := store.Save(ctx, fmt.Sprintf("m%d.eml", i), []byte("x")); err != nil {
					return false
				}
			}

			var shards []models.StorageShard
			if err := db.Find(&shards).Error; err != nil {
				return false
			}

			total, current := 0, 0
			for _, sh := range shards {
				if sh.FileCount > maxFiles {
					return false
				}
				total += sh.FileCount
				if sh.IsCurrent {
					current++
				}
			}

			expectedShards := saves/maxFiles + 1
			if saves == 0 {
				expectedShards = 0
			}
			wantCurrent := 1
			if saves == 0 {
				wantCurrent = 0
			}

			return total == saves &&
				current == wantCurrent &&
				len(shards) == expectedShards &&
				store.Healthcheck(ctx)
		},
		gen.IntRange(1, 5),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

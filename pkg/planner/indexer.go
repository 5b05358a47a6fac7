package planner

import (
	"context"
	"fmt"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
	"github.com/yuya-takeyama/sumcompare/internal/registry"
	"github.com/yuya-takeyama/sumcompare/internal/walker"
	"github.com/yuya-takeyama/sumcompare/internal/worker"
	"github.com/yuya-takeyama/sumcompare/pkg/logger"
)

const PhaseIndex = "index"

// TargetIndexer seeds the registry with the content already present under
// TARGET.
type TargetIndexer struct {
	Algorithm checksum.Algorithm
	Registry  *registry.Registry
	Pool      *worker.Pool
	Logger    logger.Logger
}

type hashed struct {
	fp  checksum.Fingerprint
	err error
}

// Index fingerprints files on the pool, then claims them one by one in the
// given order. The first path in order owns a fingerprint; every later path
// with the same fingerprint becomes a CollisionRecord. Unreadable files are
// recorded as failures. The only error returned is cancellation.
func (ix *TargetIndexer) Index(ctx context.Context, files []walker.FileInfo, results *Results) error {
	log := ix.logger()
	log.PhaseStart(PhaseIndex, len(files))

	sums, stats := worker.Map(ctx, ix.Pool, files, func(_ context.Context, f walker.FileInfo) hashed {
		fp, _, err := checksum.CalculateFile(ix.Algorithm, f.Path)
		return hashed{fp: fp, err: err}
	})
	if stats.Cancelled > 0 || ctx.Err() != nil {
		return fmt.Errorf("index target: %w", context.Cause(ctx))
	}

	for i, f := range files {
		if sums[i].err != nil {
			results.AddFailure(Failure{Path: f.Path, Phase: PhaseIndex, Err: sums[i].err})
			log.Error(PhaseIndex, f.Path, sums[i].err)
			continue
		}

		owner := ix.Registry.Claim(sums[i].fp, f.Path)
		if owner.Claimed {
			log.ItemProcessed(PhaseIndex, f.Path, "skip")
			continue
		}
		results.AddCollision(CollisionRecord{
			Current:     f.Path,
			Existing:    owner.Path,
			Fingerprint: sums[i].fp,
		})
		log.ItemProcessed(PhaseIndex, f.Path, "collision")
	}

	log.PhaseComplete(PhaseIndex, len(files))
	return nil
}

func (ix *TargetIndexer) logger() logger.Logger {
	if ix.Logger == nil {
		return &logger.NullLogger{}
	}
	return ix.Logger
}

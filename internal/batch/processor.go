// Package batch drives the counting model across one run's images. Batching
// is a reporting grouping only; classification is strictly sequential and a
// single image's failure never drops its row.
package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/dedupe"
	"github.com/yourorg/bird-survey/internal/metrics"
	"github.com/yourorg/bird-survey/internal/types"
)

// defaultGroupSize controls progress reporting, not concurrency.
const defaultGroupSize = 50

// Counter counts birds in one image; implementations must be total (the
// bedrock client absorbs its own failures and reports zero).
type Counter interface {
	CountBirds(ctx context.Context, imageBytes []byte, filename string) int
}

// Processor classifies a run's images in order.
type Processor struct {
	counter   Counter
	cache     *dedupe.Cache // optional; nil disables caching
	groupSize int
	log       *zap.Logger
}

func NewProcessor(counter Counter, cache *dedupe.Cache, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{counter: counter, cache: cache, groupSize: defaultGroupSize, log: log}
}

// Process returns exactly one result per input image, in input order. Any
// panic escaping a single image's classification is recorded as a zero count
// for that filename and processing continues.
func (p *Processor) Process(ctx context.Context, images []types.ExtractedImage, folder string) types.ResultBatch {
	batch := types.ResultBatch{Folder: folder, Results: make([]types.ClassificationResult, 0, len(images))}
	groups := (len(images) + p.groupSize - 1) / p.groupSize
	for i, img := range images {
		if i%p.groupSize == 0 {
			p.log.Info("processing group",
				zap.Int("group", i/p.groupSize+1),
				zap.Int("groups", groups),
				zap.Int("images", len(images)))
		}
		count := p.countOne(ctx, img)
		batch.Results = append(batch.Results, types.ClassificationResult{
			Filename:  img.Filename,
			BirdCount: count,
			Folder:    folder,
		})
	}
	return batch
}

func (p *Processor) countOne(ctx context.Context, img types.ExtractedImage) (count int) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("classification panicked, recording zero",
				zap.String("filename", img.Filename), zap.Any("panic", r))
			count = 0
		}
	}()

	sum := dedupe.HashImage(img.Data)
	if cached, ok := p.cache.Lookup(sum); ok {
		metrics.CacheHits.Inc()
		p.log.Debug("count served from cache",
			zap.String("filename", img.Filename), zap.Int("count", cached))
		return cached
	}
	count = p.counter.CountBirds(ctx, img.Data, img.Filename)
	p.cache.Store(sum, count)
	return count
}

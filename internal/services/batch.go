package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"leaf-lesion-detector/internal/logger"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/pipeline"

	"golang.org/x/sync/errgroup"
)

// ErrSkipped marks items that never started because the batch was stopped.
var ErrSkipped = errors.New("skipped: batch stopped")

// Item is one image to measure. Nil overrides fall back to the profiles.
type Item struct {
	Path          string
	Background    string
	Intensity     *int
	SizeThreshold *float64
}

// Result is the outcome of one Item. Exactly one of Record and Err is set.
type Result struct {
	Path   string
	Record *models.Record
	Files  []string
	Err    error
}

// BatchService measures independent leaves in parallel. A failing leaf is
// reported in its Result and never stops the others.
type BatchService struct {
	loader   *pipeline.Loader
	pipeline *pipeline.Pipeline
	saver    *pipeline.Saver
	outDir   string
	workers  int
	logger   logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewBatchService builds a service. A nil saver or empty outDir disables
// image output. workers <= 0 uses one worker per CPU.
func NewBatchService(
	loader *pipeline.Loader,
	p *pipeline.Pipeline,
	saver *pipeline.Saver,
	outDir string,
	workers int,
	log logger.Logger,
) *BatchService {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = logger.NopLogger{}
	}

	return &BatchService{
		loader:   loader,
		pipeline: p,
		saver:    saver,
		outDir:   outDir,
		workers:  workers,
		logger:   log,
	}
}

// Process measures every item and returns one Result per item, in input
// order. The returned error is non-nil only when ctx was cancelled; per-item
// failures are in the results.
func (bs *BatchService) Process(ctx context.Context, items []Item) ([]Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	bs.mu.Lock()
	bs.cancel = cancel
	bs.mu.Unlock()
	defer cancel()

	results := make([]Result, len(items))
	for i, item := range items {
		results[i].Path = item.Path
	}

	g := errgroup.Group{}
	g.SetLimit(bs.workers)

	for i := range items {
		if ctx.Err() != nil {
			for j := i; j < len(items); j++ {
				results[j].Err = ErrSkipped
			}
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				results[i].Err = ErrSkipped
				return nil
			}
			results[i].Record, results[i].Files, results[i].Err = bs.processOne(ctx, items[i])
			if results[i].Err != nil {
				bs.logger.Error("BatchService", results[i].Err, map[string]interface{}{
					"path": items[i].Path,
				})
			}
			return nil
		})
	}

	// Workers report through results and never return an error.
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	bs.logger.Info("BatchService", "batch completed", map[string]interface{}{
		"items":   len(items),
		"failed":  failed,
		"workers": bs.workers,
	})

	return results, ctx.Err()
}

func (bs *BatchService) processOne(ctx context.Context, item Item) (*models.Record, []string, error) {
	leaf, err := bs.loader.LoadFile(ctx, item.Path, item.Background)
	if err != nil {
		return nil, nil, err
	}
	defer leaf.Close()

	if item.Intensity != nil {
		if err := leaf.SetMinimumLesionValue(*item.Intensity); err != nil {
			return nil, nil, err
		}
	}
	if item.SizeThreshold != nil {
		if err := leaf.SetLesionSizeThreshold(*item.SizeThreshold); err != nil {
			return nil, nil, err
		}
	}

	if err := bs.pipeline.Run(ctx, leaf); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", leaf.Name, err)
	}

	record, err := pipeline.NewRecord(leaf)
	if err != nil {
		return nil, nil, err
	}

	if bs.saver == nil || bs.outDir == "" {
		return record, nil, nil
	}

	files, err := bs.saver.Save(bs.outDir, record)
	if err != nil {
		return nil, nil, err
	}
	return record, files, nil
}

// Shutdown stops a running batch before its next item starts.
func (bs *BatchService) Shutdown() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.cancel != nil {
		bs.cancel()
	}
}

// Records returns the successful records ordered by lesion percentage.
func Records(results []Result) []*models.Record {
	records := make([]*models.Record, 0, len(results))
	for _, r := range results {
		if r.Record != nil {
			records = append(records, r.Record)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LesionPercentage < records[j].LesionPercentage
	})
	return records
}

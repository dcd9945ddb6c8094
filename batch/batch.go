package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/contentforge/go-core/logger"
)

var tracer = otel.Tracer("github.com/contentforge/go-core/batch")

// WorkItem is one caller-supplied unit of input. The ID is carried through
// to the matching Result; the payload is opaque to the executor.
type WorkItem[TIn any] struct {
	ID      string
	Payload TIn
}

// Result is the outcome for a single work item. Exactly one Result is
// produced per input item, at the same index as the item.
type Result[TOut any] struct {
	ItemID  string
	Success bool
	Data    TOut
	Err     string
}

// Progress is a snapshot of batch completion. Completed is monotonically
// non-decreasing across the callback stream of one Run, and the final
// callback of a non-empty batch always has Completed == Total.
type Progress struct {
	Completed int
	Total     int
	// Label identifies the item that just finished.
	Label string
}

// Worker performs the potentially slow, potentially failing unit of work.
// A worker that never returns permanently occupies one concurrency slot and
// will hang the batch — workers that may stall must wrap themselves with a
// deadline and return.
type Worker[TIn, TOut any] func(ctx context.Context, item WorkItem[TIn]) (TOut, error)

// CacheProbe is an optional cheap pre-check. When it returns found=true the
// worker is not invoked for that item and no concurrency slot is consumed.
// A probe error is treated as a miss, never as an item failure.
type CacheProbe[TIn, TOut any] func(ctx context.Context, item WorkItem[TIn]) (TOut, bool, error)

// ProgressFunc receives completion snapshots. Callbacks are delivered
// serially in completion order; the callback must return promptly.
type ProgressFunc func(Progress)

// Options configures one Run call.
type Options[TIn, TOut any] struct {
	// Concurrency caps the number of simultaneously running workers.
	// Values < 1 mean sequential (1). Probe hits are not counted.
	Concurrency int
	// CheckCache, when set, is consulted before admitting an item to the
	// worker pool.
	CheckCache CacheProbe[TIn, TOut]
	// OnProgress, when set, is called once per finished item.
	OnProgress ProgressFunc
	// Logger used for per-item failure logging. Defaults to a console logger.
	Logger logger.Logger
}

// Run applies worker to every item with bounded concurrency and per-item
// failure isolation. The returned slice is aligned 1:1 with items by index
// regardless of completion order or the cache-hit/miss mix. A failing item
// is reported in its Result and never aborts the batch; Run itself does not
// return an error.
func Run[TIn, TOut any](ctx context.Context, items []WorkItem[TIn], worker Worker[TIn, TOut], opts Options[TIn, TOut]) []Result[TOut] {
	results := make([]Result[TOut], len(items))
	if len(items) == 0 {
		return results
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	runID := uuid.NewString()[:8]
	log = log.WithPrefix("[batch]").With(map[string]interface{}{"run": runID})

	ctx, span := tracer.Start(ctx, "batch.Run", trace.WithAttributes(
		attribute.String("batch.run_id", runID),
		attribute.Int("batch.items", len(items)),
		attribute.Int("batch.concurrency", concurrency),
	))
	defer span.End()

	var mu sync.Mutex
	completed := 0

	// finish records the result for one item and emits its progress tick.
	// The mutex serializes ticks so Completed is strictly monotonic and the
	// terminal tick is delivered last.
	finish := func(i int, res Result[TOut]) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = res
		completed++
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Completed: completed, Total: len(items), Label: res.ItemID})
		}
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[TIn]) {
			defer wg.Done()

			if opts.CheckCache != nil {
				val, found, err := runProbe(ctx, opts.CheckCache, item)
				if err != nil {
					// Probe failure falls through to the worker.
					log.Debug("cache probe failed for %s: %s", item.ID, err)
				} else if found {
					finish(i, Result[TOut]{ItemID: item.ID, Success: true, Data: val})
					return
				}
			}

			// Admission gate: at most Concurrency workers in flight. Probe
			// hits above never reach this point, so they cost no slot.
			if err := sem.Acquire(ctx, 1); err != nil {
				finish(i, Result[TOut]{ItemID: item.ID, Err: err.Error()})
				return
			}
			out, err := runWorker(ctx, worker, item)
			sem.Release(1)

			if err != nil {
				log.Debug("item %s failed: %s", item.ID, err)
				finish(i, Result[TOut]{ItemID: item.ID, Err: err.Error()})
				return
			}
			finish(i, Result[TOut]{ItemID: item.ID, Success: true, Data: out})
		}(i, item)
	}
	wg.Wait()

	span.SetAttributes(attribute.Int("batch.completed", completed))
	return results
}

// runWorker invokes the worker, converting a panic into a per-item error so
// one bad item cannot take down the batch.
func runWorker[TIn, TOut any](ctx context.Context, worker Worker[TIn, TOut], item WorkItem[TIn]) (out TOut, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return worker(ctx, item)
}

// runProbe invokes the cache probe, converting a panic into a miss.
func runProbe[TIn, TOut any](ctx context.Context, probe CacheProbe[TIn, TOut], item WorkItem[TIn]) (out TOut, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = false
			err = fmt.Errorf("cache probe panic: %v", r)
		}
	}()
	return probe(ctx, item)
}

// Package batch applies a unit of work to a list of independent items with
// bounded concurrency, per-item failure isolation and incremental progress
// reporting.
//
// The content planning features fan many pages, topics or competitor URLs
// out to external text-generation services; this executor guarantees that at
// most Concurrency calls are in flight at once, that one slow or failing
// item never blocks or aborts the rest, and that the caller gets back
// exactly one result per item in input order.
//
//	results := batch.Run(ctx, items, analyzePage, batch.Options[Page, Analysis]{
//	    Concurrency: 4,
//	    CheckCache: func(ctx context.Context, item batch.WorkItem[Page]) (Analysis, bool, error) {
//	        return cache.Get[Analysis](ctx, tc, pageKey(item.Payload))
//	    },
//	    OnProgress: func(p batch.Progress) {
//	        ui.SetProgress(p.Completed, p.Total)
//	    },
//	})
//
// Admission is gated by a weighted semaphore rather than by pre-slicing the
// input into chunks: whenever a worker finishes, the next pending item is
// admitted immediately, so the pool stays full even when item durations
// vary. Items resolved by the CheckCache probe bypass the gate entirely.
//
// The executor owns no state beyond a single Run call and enforces no
// per-item timeout; a worker that can stall must bound itself with a
// deadline, since an unreturning worker permanently holds its slot.
package batch

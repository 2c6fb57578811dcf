// Package dispatch runs article fetches on a fixed-size worker pool.
package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/DailyBinder/internal/edition"
)

// Task fetches a single article. It must not block past its own timeout.
type Task func(ctx context.Context, link edition.ArticleLink) edition.ArticleRecord

// ProgressFunc is called after every completed task, from a single goroutine.
type ProgressFunc func(edition.Progress)

// Run executes task for every link with at most workers tasks in flight and
// returns exactly one record per link, in completion order. It returns only
// after every task has finished.
//
// Once ctx is done, links no worker has picked up yet are recorded as failed
// with the context error instead of being fetched.
func Run(ctx context.Context, links []edition.ArticleLink, workers int, task Task, onProgress ProgressFunc) []edition.ArticleRecord {
	total := len(links)
	if total == 0 {
		return []edition.ArticleRecord{}
	}
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	queue := make(chan edition.ArticleLink, total)
	for _, l := range links {
		queue <- l
	}
	close(queue)

	completions := make(chan edition.ArticleRecord, workers)
	collected := make(chan []edition.ArticleRecord, 1)

	// Single owner of the result slice and the completion counter.
	go func() {
		results := make([]edition.ArticleRecord, 0, total)
		for rec := range completions {
			results = append(results, rec)
			if onProgress != nil {
				onProgress(edition.Progress{Completed: len(results), Total: total, Record: rec})
			}
		}
		collected <- results
	}()

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for link := range queue {
				if err := ctx.Err(); err != nil {
					completions <- edition.FailedRecord(link, err)
					continue
				}
				completions <- safeRun(ctx, task, link)
			}
			return nil
		})
	}

	_ = g.Wait()
	close(completions)
	return <-collected
}

// safeRun keeps one misbehaving task from taking down the batch.
func safeRun(ctx context.Context, task Task, link edition.ArticleLink) (rec edition.ArticleRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = edition.FailedRecord(link, fmt.Errorf("panic: %v", r))
		}
	}()
	return task(ctx, link)
}

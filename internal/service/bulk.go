package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/vanshika/kgcommit/internal/domain"
)

// TaskError accumulates the failures of a bulk commit.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// BulkCommitter commits independent documents with a pool of workers. Each
// document is still committed sequentially by a single Commit call.
type BulkCommitter struct {
	committer *Committer
	workers   int
}

// NewBulkCommitter creates a BulkCommitter. Fewer than one worker means one.
func NewBulkCommitter(committer *Committer, workers int) *BulkCommitter {
	if workers <= 0 {
		workers = 1
	}
	return &BulkCommitter{
		committer: committer,
		workers:   workers,
	}
}

// CommitAll commits every document and returns the annotated results in
// input order. A document that fails leaves a zero value in its slot and
// contributes to the returned *TaskError.
func (bc *BulkCommitter) CommitAll(ctx context.Context, docs []domain.GraphData) ([]domain.GraphData, error) {
	results := make([]domain.GraphData, len(docs))
	err := bc.run(ctx, len(docs), func(idx int) error {
		out, err := bc.committer.Commit(ctx, docs[idx])
		if err != nil {
			return fmt.Errorf("document %d: %w", idx, err)
		}
		results[idx] = out
		return nil
	})
	return results, err
}

func (bc *BulkCommitter) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < bc.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}
	var taskErr TaskError
	for err := range errCh {
		taskErr.append(err)
	}
	return taskErr.asError()
}

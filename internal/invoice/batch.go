package invoice

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome for one path of a batch
type BatchItem struct {
	Path    string
	Invoice *Invoice
	Err     error
}

// BatchResult holds one item per input path, in input order
type BatchResult struct {
	Items []BatchItem
}

// Succeeded counts the documents that were stored
func (r BatchResult) Succeeded() int {
	n := 0
	for _, item := range r.Items {
		if item.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the items whose document was not stored
func (r BatchResult) Failed() []BatchItem {
	var failed []BatchItem
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// ProcessBatch processes paths on up to workers goroutines. A failing
// document is logged and recorded; it does not stop the others. Once ctx is
// cancelled no new document is started, documents already running finish.
func (s *Service) ProcessBatch(ctx context.Context, paths []string, workers int) BatchResult {
	if workers < 1 {
		workers = 1
	}

	result := BatchResult{Items: make([]BatchItem, len(paths))}
	var g errgroup.Group
	g.SetLimit(workers)

	for i, path := range paths {
		result.Items[i].Path = path
		if err := ctx.Err(); err != nil {
			result.Items[i].Err = fmt.Errorf("not started: %w", err)
			continue
		}

		g.Go(func() error {
			item := &result.Items[i]
			if err := ctx.Err(); err != nil {
				item.Err = fmt.Errorf("not started: %w", err)
				return nil
			}

			item.Invoice, item.Err = s.ProcessFile(ctx, path, nil)
			if item.Err != nil {
				slog.Error("Skipping document", "path", path, "error", item.Err)
			}
			return nil
		})
	}

	_ = g.Wait()

	slog.Info("Batch finished", "documents", len(paths), "stored", result.Succeeded())
	return result
}

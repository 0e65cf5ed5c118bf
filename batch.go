package fastexif

import (
	"context"
	"runtime"
	"sync"
)

// FileResult pairs one input path with its extraction outcome. Exactly
// one of Result and Err is meaningful, except for truncated files where
// both carry the partial result and the truncation error.
type FileResult struct {
	Path   string
	Result Result
	Err    error
}

// ExtractBatch extracts metadata from paths using a bounded pool of
// workers. The returned slice has one element per input, in input order.
// A failed file records its error in its slot; it never affects other
// files. Cancelling ctx stops scheduling new files and marks the
// remainder with ctx's error.
func (e *Engine) ExtractBatch(ctx context.Context, paths []string, workers int) []FileResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	results := make([]FileResult, len(paths))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				res, err := e.ExtractFile(paths[i])
				results[i] = FileResult{Path: paths[i], Result: res, Err: err}
			}
		}()
	}

	stopped := len(paths)
send:
	for i := range paths {
		select {
		case <-ctx.Done():
			stopped = i
			break send
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	for i := stopped; i < len(paths); i++ {
		results[i] = FileResult{Path: paths[i], Err: ctx.Err()}
	}
	return results
}

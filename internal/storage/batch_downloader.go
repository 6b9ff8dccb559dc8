package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches the members of one merge group into a local work
// directory with bounded parallelism. Local paths keep the order of the
// request so the merge tool sees inputs in group order.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	workDir     string
}

// BatchRequest names the objects to fetch. Sizes, when present, must align
// with ObjectPaths and let a previously downloaded file of the same size be
// reused instead of fetched again.
type BatchRequest struct {
	ObjectPaths []string
	Sizes       []int64
}

// BatchResult holds the outcome of a batch download. LocalPaths and Errors are
// index-aligned with the request; a nil error means the file is in place.
type BatchResult struct {
	LocalPaths []string
	Errors     []error
	CacheHits  int
	Downloads  int
}

// Err returns the first per-object error, or nil.
func (r *BatchResult) Err() error {
	for i, err := range r.Errors {
		if err != nil {
			return fmt.Errorf("fetch %s: %w", r.LocalPaths[i], err)
		}
	}
	return nil
}

// NewBatchDownloader creates a batch downloader writing into workDir.
func NewBatchDownloader(storage ObjectStorage, concurrency int, workDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		workDir:     workDir,
	}
}

// Download fetches every object in the request. Individual failures are
// reported in BatchResult.Errors; the returned error is reserved for problems
// that affect the whole batch.
func (b *BatchDownloader) Download(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	n := len(req.ObjectPaths)
	if len(req.Sizes) != 0 && len(req.Sizes) != n {
		return nil, fmt.Errorf("sizes length %d must match object paths count %d", len(req.Sizes), n)
	}
	if err := os.MkdirAll(b.workDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	result := &BatchResult{
		LocalPaths: make([]string, n),
		Errors:     make([]error, n),
	}
	if n == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, objectPath := range req.ObjectPaths {
		local := b.localPath(i, objectPath)
		result.LocalPaths[i] = local

		if len(req.Sizes) == n {
			if info, err := os.Stat(local); err == nil && info.Size() == req.Sizes[i] {
				result.CacheHits++
				continue
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			result.Errors[i] = fmt.Errorf("semaphore acquire failed: %w", err)
			continue
		}

		wg.Add(1)
		go func(i int, objectPath, local string) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[i] = err
				return
			}
			result.Downloads++
		}(i, objectPath, local)
	}

	wg.Wait()
	return result, nil
}

// localPath prefixes the object's base name with its position so repeated
// keys, or keys sharing a base name, do not overwrite each other.
func (b *BatchDownloader) localPath(index int, objectPath string) string {
	name := filepath.Base(filepath.FromSlash(objectPath))
	return filepath.Join(b.workDir, fmt.Sprintf("%04d_%s", index, name))
}

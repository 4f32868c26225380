package db

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default sizes for paged reads and IN (...) lookups. Hosted Postgres APIs in
// front of the signal tables cap a single response at 1000 rows.
const (
	DefaultPageSize  = 1000
	DefaultBatchSize = 500
)

// PageFunc fetches a single page of at most limit rows starting at offset.
type PageFunc[T any] func(ctx context.Context, limit, offset int) ([]T, error)

// FetchPaged calls fetch with increasing offsets until a short page is
// returned and concatenates the pages in order.
func FetchPaged[T any](ctx context.Context, pageSize int, fetch PageFunc[T]) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []T
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "db: paged fetch cancelled")
		}
		page, err := fetch(ctx, pageSize, offset)
		if err != nil {
			return nil, eris.Wrapf(err, "db: fetch page at offset %d", offset)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Batcher splits multi-key lookups into fixed-size batches and optionally
// paces them with a token-bucket limiter.
type Batcher struct {
	Size    int
	Limiter *rate.Limiter
}

// NewBatcher creates a Batcher. A non-positive perSecond disables pacing.
func NewBatcher(size int, perSecond float64) Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	b := Batcher{Size: size}
	if perSecond > 0 {
		burst := max(int(perSecond), 1)
		b.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return b
}

// Batches returns keys split into batches of b.Size.
func (b Batcher) Batches(keys []string) [][]string {
	return Chunk(keys, b.Size)
}

// Wait blocks until the next batch may be issued.
func (b Batcher) Wait(ctx context.Context) error {
	if b.Limiter == nil {
		return nil
	}
	return eris.Wrap(b.Limiter.Wait(ctx), "db: batch limiter")
}

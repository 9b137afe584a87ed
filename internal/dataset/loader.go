package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"multitask-eval/internal/model"
)

// LoaderOptions configures a multi-shard batch loader.
type LoaderOptions struct {
	Dir        string
	BatchSize  int
	BufferSize int // batches read ahead of the consumer
	Workers    int // shards opened ahead of the one being read
	Header     bool
	Shuffle    bool
	Seed       int64

	// TaskLevelType restricts labels to one task level; "all" keeps every level.
	// Label columns always follow Tasks.Heads of the full task set, so the
	// same shards serve every level.
	TaskLevelType string
	Tasks         model.Tasks

	ParseRow   ParseRowFunc
	BuildBatch BatchFunc
}

// Loader produces batches from every shard under a directory. Each Open
// starts again from the first shard.
type Loader struct {
	opts   LoaderOptions
	shards []string
	// tasks is the level view of opts.Tasks; filtered is set when it differs.
	tasks    model.Tasks
	filtered bool
}

// NewLoader discovers the shards under opts.Dir.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Dir == "" {
		return nil, errors.New("loader: data dir is required")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ParseRow == nil {
		opts.ParseRow = PassthroughRow
	}
	if opts.BuildBatch == nil {
		opts.BuildBatch = DenseBatcher
	}

	shards, err := DiscoverShards(opts.Dir)
	if err != nil {
		return nil, err
	}
	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(shards), func(i, j int) {
			shards[i], shards[j] = shards[j], shards[i]
		})
	}
	level := opts.TaskLevelType
	return &Loader{
		opts:     opts,
		shards:   shards,
		tasks:    opts.Tasks.ForLevel(level),
		filtered: level != "" && level != "all",
	}, nil
}

// Shards returns the shard paths in read order.
func (l *Loader) Shards() []string {
	return append([]string(nil), l.shards...)
}

// Stream is one pass over the loader's shards.
type Stream struct {
	batches <-chan model.Batch
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Open starts reading shards in the background.
func (l *Loader) Open(parent context.Context) *Stream {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan shardJob, l.opts.Workers)
	cursors := make(chan shardCursor, l.opts.Workers)
	out := make(chan model.Batch, l.opts.BufferSize)

	g.Go(func() error {
		defer close(jobs)
		for id, path := range l.shards {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- shardJob{id: int64(id), path: path}:
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < l.opts.Workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return worker(gctx, jobs, cursors, l.opts.Header)
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(cursors)
		return nil
	})

	g.Go(func() error {
		defer close(out)
		return l.assemble(gctx, cursors, out)
	})

	return &Stream{batches: out, cancel: cancel, group: g}
}

// Next returns the next batch, or io.EOF once every shard has been read.
func (s *Stream) Next(ctx context.Context) (model.Batch, error) {
	select {
	case <-ctx.Done():
		return model.Batch{}, ctx.Err()
	case b, ok := <-s.batches:
		if ok {
			return b, nil
		}
	}
	if err := s.group.Wait(); err != nil {
		return model.Batch{}, err
	}
	return model.Batch{}, io.EOF
}

// Close stops the background readers and waits for them to exit.
func (s *Stream) Close() error {
	s.cancel()
	err := s.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type shardJob struct {
	id   int64
	path string
}

type shardCursor struct {
	id      int64
	records <-chan Record
	errCh   <-chan error
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, header bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			records, errCh := StreamShard(ctx, job.path, header)
			cursor := shardCursor{id: job.id, records: records, errCh: errCh}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cursors <- cursor:
			}
		}
	}
}

// assemble drains shards strictly in id order and groups rows into batches.
func (l *Loader) assemble(ctx context.Context, cursors <-chan shardCursor, out chan<- model.Batch) error {
	pending := make(map[int64]shardCursor)
	rows := make([][]string, 0, l.opts.BatchSize)

	emit := func() error {
		if len(rows) == 0 {
			return nil
		}
		batch, err := l.opts.BuildBatch(rows, l.opts.Tasks)
		if err != nil {
			return fmt.Errorf("build batch: %w", err)
		}
		if l.filtered {
			batch.Labels = l.tasks.FilterLabels(batch.Labels)
		}
		rows = make([][]string, 0, l.opts.BatchSize)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- batch:
			return nil
		}
	}

	var nextID int64
	for {
		cursor, ok := pending[nextID]
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, open := <-cursors:
				if !open {
					return emit()
				}
				pending[c.id] = c
			}
			continue
		}

		for rec := range cursor.records {
			row, err := l.opts.ParseRow(rec)
			if err != nil {
				return fmt.Errorf("parse %s:%d: %w", rec.Path, rec.Line, err)
			}
			rows = append(rows, row)
			if len(rows) == l.opts.BatchSize {
				if err := emit(); err != nil {
					return err
				}
			}
		}
		if err := <-cursor.errCh; err != nil {
			return err
		}
		delete(pending, nextID)
		nextID++
	}
}

package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

// Record is one parsed line of a shard.
type Record struct {
	Path   string
	Line   int
	Fields []string
}

// StreamShard streams the records of the shard at path. Files ending in .xz
// are decompressed on the fly, .tsv files are tab separated and everything
// else is comma separated. With header set the first record is dropped.
func StreamShard(ctx context.Context, path string, header bool) (<-chan Record, <-chan error) {
	out := make(chan Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		var r io.Reader = bufio.NewReader(f)
		name := path
		if strings.HasSuffix(name, ".xz") {
			xr, err := xz.NewReader(r)
			if err != nil {
				errCh <- fmt.Errorf("open xz shard %s: %w", path, err)
				return
			}
			r = xr
			name = strings.TrimSuffix(name, ".xz")
		}

		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = false
		if strings.HasSuffix(name, ".tsv") {
			cr.Comma = '\t'
			cr.LazyQuotes = true
		}

		line := 0
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			fields, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("read %s: %w", path, err)
				return
			}
			line++
			if header && line == 1 {
				continue
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Record{Path: path, Line: line, Fields: fields}:
			}
		}
	}()

	return out, errCh
}

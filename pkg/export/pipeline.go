package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/sidecar"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

const (
	// BatchSize is how many rows are read from the cursor at a time
	BatchSize = 500

	// MaxSingleSensorRows caps the single sensor export
	MaxSingleSensorRows = 10000
)

// ErrSidecarMismatch is returned when a row's sensor has no sidecar entry
var ErrSidecarMismatch = errors.New("row sensor missing from sidecar")

// Stats summarizes a finished export
type Stats struct {
	Rows     int           `json:"rows"`
	Batches  int           `json:"batches"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Pipeline streams cursor rows to a writer. Each batch is transformed,
// serialized and written (and flushed when the writer supports it) before
// the next batch is read, so at most one batch is held in memory.
//
// A Pipeline serves a single export and is not safe for concurrent use.
type Pipeline struct {
	Columns    []string
	Sidecar    sidecar.Sidecar
	Serializer Serializer

	// BatchSize overrides the default batch size when > 0
	BatchSize int
}

// Run drains cur into w. The cursor is always closed. On error the stream
// is left as is; Stats.Bytes tells the caller whether anything was sent.
func (p *Pipeline) Run(ctx context.Context, cur storage.Cursor, w io.Writer) (stats Stats, err error) {
	start := time.Now()
	defer func() {
		if cerr := cur.Close(); cerr != nil && err == nil {
			err = apperr.Pipeline("close cursor", cerr)
		}
		stats.Duration = time.Since(start)
	}()

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = BatchSize
	}

	flusher, _ := w.(http.Flusher)
	var buf bytes.Buffer

	send := func() error {
		if buf.Len() == 0 {
			return nil
		}
		n, err := w.Write(buf.Bytes())
		stats.Bytes += int64(n)
		buf.Reset()
		if err != nil {
			return apperr.Pipeline("write", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	// The opening frame goes out with the first batch so a failed first read
	// leaves the response untouched.
	if err := p.Serializer.Begin(&buf); err != nil {
		return stats, apperr.Pipeline("serialize", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, apperr.Pipeline("export cancelled", err)
		}

		rows, err := cur.Next(ctx, batchSize)
		if err != nil {
			return stats, apperr.Pipeline("read batch", err)
		}
		if len(rows) == 0 {
			break
		}
		stats.Batches++

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return stats, apperr.Pipeline("export cancelled", err)
			}

			rec, err := Transform(row, p.Sidecar, p.Columns)
			if err != nil {
				return stats, err
			}
			if err := p.Serializer.Write(&buf, rec); err != nil {
				return stats, apperr.Pipeline("serialize", fmt.Errorf("row %d: %w", stats.Rows, err))
			}
			stats.Rows++
		}

		if err := send(); err != nil {
			return stats, err
		}
	}

	if err := p.Serializer.End(&buf); err != nil {
		return stats, apperr.Pipeline("serialize", err)
	}
	if err := send(); err != nil {
		return stats, err
	}
	return stats, nil
}

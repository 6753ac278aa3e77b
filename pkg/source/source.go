// Package source reads batches of raw rows from files and log services.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/event"
)

// ErrUnknownFormat is returned for an input format no reader handles.
var ErrUnknownFormat = errors.New("unknown input format")

// RowSource provides an iterator over the raw rows of one batch.
// Implementations must be safe for sequential access (not concurrent).
type RowSource interface {
	// Next returns the next row.
	// Returns io.EOF when no more rows are available.
	Next(ctx context.Context) (*event.Row, error)

	// Close releases any resources held by the source.
	Close() error
}

// OpenFile opens a file-backed batch in the configured input format.
func OpenFile(in config.InputConfig, path string) (RowSource, error) {
	switch in.Format {
	case config.FormatCSV, "":
		return NewCSVSource(path, in.Header)
	case config.FormatLines:
		return NewLineSource(path)
	case config.FormatJSONL:
		return NewJSONLSource(path, in.JSONFields)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, in.Format)
	}
}

// ReadBatch drains src into a named batch and closes it.
func ReadBatch(ctx context.Context, name string, src RowSource) (event.Batch, error) {
	defer src.Close()

	batch := event.Batch{Name: name}
	for {
		row, err := src.Next(ctx)
		if err == io.EOF {
			return batch, nil
		}
		if err != nil {
			return event.Batch{}, fmt.Errorf("reading batch %s: %w", name, err)
		}
		batch.Rows = append(batch.Rows, *row)
	}
}

// LoadFile opens and reads one file batch.
func LoadFile(ctx context.Context, in config.InputConfig, path string) (event.Batch, error) {
	src, err := OpenFile(in, path)
	if err != nil {
		return event.Batch{}, err
	}
	return ReadBatch(ctx, path, src)
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

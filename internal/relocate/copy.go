// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/stagecache/internal/events"
)

const (
	copyChunkSize    = 4 * 1024 * 1024
	progressInterval = 500 * time.Millisecond
)

// copyChunks streams src into dst in fixed-size chunks, checking ctx
// between chunks so a cancelled operation stops at the next boundary
// instead of mid-buffer. report may be nil.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int64, report func(done int64)) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = copyChunkSize
	}
	buf := make([]byte, chunkSize)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return done, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			done += int64(w)
			if werr != nil {
				return done, classifyFastWrite(werr)
			}
			if w < n {
				return done, fmt.Errorf("%w: short write", ErrWrite)
			}
			if report != nil {
				report(done)
			}
		}
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil {
			return done, fmt.Errorf("%w: %v", ErrRead, rerr)
		}
	}
}

// progressReporter throttles operation_progress events to one per
// interval, always letting the first chunk through so subscribers see
// the operation start moving.
func (r *Relocator) progressReporter(opID, opType, name string, total int64, start time.Time) func(done int64) {
	var last time.Time
	return func(done int64) {
		now := time.Now()
		if done < total && now.Sub(last) < progressInterval {
			return
		}
		last = now

		elapsed := now.Sub(start).Seconds()
		var speed, eta float64
		if elapsed > 0 {
			speed = float64(done) / elapsed
		}
		if speed > 0 && total > done {
			eta = float64(total-done) / speed
		}
		var pct float64
		if total > 0 {
			pct = float64(done) / float64(total) * 100
		}
		r.sink.Publish(events.New(events.TypeOperationProgress, events.OperationProgress{
			OperationID:      opID,
			OperationType:    opType,
			FileName:         name,
			ProgressPercent:  pct,
			BytesTransferred: done,
			BytesTotal:       total,
			SpeedBytesPerSec: speed,
			ETASeconds:       eta,
		}))
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package command

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/stagecache/internal/tracker"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatText = "text"
)

const exportPageSize = 500

// Export renders every entry matching the filter in the given format.
// The filter's pagination fields are ignored; an export is complete.
func (c *Commands) Export(ctx context.Context, format string, f tracker.Filter, actor string) ([]byte, error) {
	data, n, err := c.render(ctx, format, f)
	if err != nil {
		return nil, err
	}
	c.audit.Exported(actor, format, "stream", n)
	c.logger.Info().
		Str("event", "command.export").
		Str("actor", actor).
		Str("format", format).
		Int("entries", n).
		Msg("cache inventory exported")
	return data, nil
}

// ExportToFile writes an export atomically to path: the bytes land under
// a temporary name and are renamed into place only once complete.
func (c *Commands) ExportToFile(ctx context.Context, format string, f tracker.Filter, path, actor string) error {
	data, n, err := c.render(ctx, format, f)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export %s: %w", path, err)
	}
	c.audit.Exported(actor, format, path, n)
	c.logEvent("info", fmt.Sprintf("exported %d entries to %s", n, path))
	c.logger.Info().
		Str("event", "command.export").
		Str("actor", actor).
		Str("format", format).
		Str("path", path).
		Int("entries", n).
		Msg("cache inventory exported")
	return nil
}

func (c *Commands) render(ctx context.Context, format string, f tracker.Filter) ([]byte, int, error) {
	entries, err := c.collectAll(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	var buf bytes.Buffer
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return nil, 0, err
		}
	case FormatCSV:
		if err := writeCSV(&buf, entries); err != nil {
			return nil, 0, err
		}
	case FormatText:
		if err := writeText(&buf, entries); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("unknown export format %q", format)
	}
	return buf.Bytes(), len(entries), nil
}

// collectAll pages through every entry matching the filter.
func (c *Commands) collectAll(ctx context.Context, f tracker.Filter) ([]tracker.Entry, error) {
	f.Limit = exportPageSize
	f.Offset = 0

	var all []tracker.Entry
	for {
		page, err := c.store.Query(ctx, f)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		if len(page.Entries) < f.Limit || len(all) >= page.Total {
			return all, nil
		}
		f.Offset += f.Limit
	}
}

var exportHeader = []string{
	"id", "logical_path", "status", "cause", "cause_user",
	"size_bytes", "cached_at", "last_accessed_at", "access_count", "removal_reason",
}

func writeCSV(w io.Writer, entries []tracker.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for i := range entries {
		e := &entries[i]
		row := []string{
			e.ID,
			e.LogicalPath,
			string(e.Status),
			e.CauseOperation,
			e.CauseUserID,
			strconv.FormatInt(e.SizeBytes, 10),
			e.CachedAt.UTC().Format(time.RFC3339),
			e.LastAccessedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.AccessCount, 10),
			e.RemovalReason,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeText(w io.Writer, entries []tracker.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tPATH\tSTATUS\tCAUSE\tSIZE\tACCESSES")
	for i := range entries {
		e := &entries[i]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			e.ID, e.LogicalPath, e.Status, e.CauseOperation, e.SizeBytes, e.AccessCount)
	}
	return tw.Flush()
}

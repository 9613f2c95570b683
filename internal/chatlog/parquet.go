package chatlog

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

type parquetEntry struct {
	ID              int64   `parquet:"id"`
	SessionID       string  `parquet:"session_id"`
	Role            string  `parquet:"role"`
	Content         string  `parquet:"content"`
	SQLQuery        *string `parquet:"sql_query,optional"`
	LatencyMS       *int64  `parquet:"latency_ms,optional"`
	CreatedAtUnixMs int64   `parquet:"created_at_unix_ms"`
}

// EncodeParquet serializes a transcript for offline analysis.
func EncodeParquet(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries are required")
	}
	rows := make([]parquetEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, parquetEntry{
			ID:              entry.ID,
			SessionID:       entry.SessionID,
			Role:            entry.Role,
			Content:         entry.Content,
			SQLQuery:        entry.SQLQuery,
			LatencyMS:       entry.LatencyMS,
			CreatedAtUnixMs: entry.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

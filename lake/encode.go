package lake

import (
	"bytes"
	"fmt"

	"filingbot/types"

	"github.com/parquet-go/parquet-go"
)

// encode writes rows of one table as a Parquet file.
func encode(rows []types.Row) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to encode")
	}
	switch rows[0].(type) {
	case types.InsiderTransaction:
		return encodeAs[types.InsiderTransaction](rows)
	case types.Holding:
		return encodeAs[types.Holding](rows)
	case types.OwnershipNotice:
		return encodeAs[types.OwnershipNotice](rows)
	case types.FilingRecord:
		return encodeAs[types.FilingRecord](rows)
	default:
		return nil, fmt.Errorf("unsupported row type %T", rows[0])
	}
}

func encodeAs[T types.Row](rows []types.Row) ([]byte, error) {
	typed := make([]T, 0, len(rows))
	for _, r := range rows {
		t, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("mixed row types in one file: %T", r)
		}
		typed = append(typed, t)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(typed); err != nil {
		return nil, fmt.Errorf("failed to encode %d rows: %w", len(typed), err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

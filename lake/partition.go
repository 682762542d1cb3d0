package lake

import (
	"errors"
	"fmt"
	"path"
	"time"

	"filingbot/types"
)

// ErrNoPartitionDate is returned for rows whose own date is missing or
// unparseable. Such rows cannot be placed.
var ErrNoPartitionDate = errors.New("row has no partition date")

// PartitionKey identifies one (table, year, month) partition.
type PartitionKey struct {
	Table string
	Year  int
	Month time.Month
}

// KeyOf derives the partition of a row from the row's own date.
func KeyOf(r types.Row) (PartitionKey, error) {
	d := r.PartitionDate()
	if d.IsZero() {
		return PartitionKey{}, fmt.Errorf("%w: %s row of %s", ErrNoPartitionDate, r.Table(), r.Key())
	}
	return PartitionKey{Table: r.Table(), Year: d.Year(), Month: d.Month()}, nil
}

// Prefix is the partition's directory under root.
func (k PartitionKey) Prefix(root string) string {
	return path.Join(root, k.Table, fmt.Sprintf("year=%04d", k.Year), fmt.Sprintf("month=%02d", int(k.Month)))
}

// ObjectKey names one file of the partition.
func (k PartitionKey) ObjectKey(root, id string) string {
	return k.Prefix(root) + "/" + id + ".parquet"
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%04d-%02d", k.Table, k.Year, int(k.Month))
}

func (k PartitionKey) less(o PartitionKey) bool {
	if k.Table != o.Table {
		return k.Table < o.Table
	}
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

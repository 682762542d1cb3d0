// Package deduplication answers "have we seen this filing before?" against the
// lake's filings table, and hands out short-lived enqueue claims.
package deduplication

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"filingbot/config"
	"filingbot/metrics"
	"filingbot/types"
)

// ErrInvalidKey is returned for keys that are not accession numbers. Keys are
// interpolated into query text, so anything else is refused.
var ErrInvalidKey = errors.New("invalid idempotency key")

// QueryEngine runs a query and returns the values of its first column.
type QueryEngine interface {
	QueryColumn(ctx context.Context, query string) ([]string, error)
}

// Checker runs chunked existence queries over the filings table.
type Checker struct {
	engine    QueryEngine
	table     string
	chunkSize int
}

// NewChecker returns a checker over table (normally "filings").
func NewChecker(engine QueryEngine, table string) *Checker {
	if table == "" {
		table = types.TableFilings
	}
	return &Checker{engine: engine, table: table, chunkSize: config.ExistenceChunkSize}
}

// CheckExisting returns the subset of keys that have any filing record.
func (c *Checker) CheckExisting(ctx context.Context, keys []string) (map[string]struct{}, error) {
	return c.check(ctx, "existing", keys, func(in string) string {
		return fmt.Sprintf("SELECT DISTINCT accession_number FROM %s WHERE accession_number IN (%s)", c.table, in)
	})
}

// CheckParsed returns the subset of keys that reached PARSED. PARSED is
// terminal, so any PARSED record counts regardless of later rows.
func (c *Checker) CheckParsed(ctx context.Context, keys []string) (map[string]struct{}, error) {
	return c.check(ctx, "parsed", keys, func(in string) string {
		return fmt.Sprintf("SELECT DISTINCT accession_number FROM %s WHERE status = '%s' AND accession_number IN (%s)",
			c.table, types.StatusParsed, in)
	})
}

// check issues one query per chunk, one after another, and unions the
// results. A failed chunk fails the whole check: treating it as "nothing
// exists" would enqueue duplicates.
func (c *Checker) check(ctx context.Context, name string, keys []string, build func(in string) string) (map[string]struct{}, error) {
	unique, err := normalizeKeys(keys)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{})
	if len(unique) == 0 {
		return found, nil
	}

	chunks := chunk(unique, c.chunkSize)
	for i, part := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := c.engine.QueryColumn(ctx, build(inList(part)))
		if err != nil {
			metrics.ExistenceQueries.WithLabelValues(name, "error").Inc()
			return nil, fmt.Errorf("%s check chunk %d/%d failed: %w", name, i+1, len(chunks), err)
		}
		metrics.ExistenceQueries.WithLabelValues(name, "ok").Inc()
		for _, key := range rows {
			found[strings.TrimSpace(key)] = struct{}{}
		}
	}
	log.Printf("existence: %s check of %d keys in %d queries found %d", name, len(unique), len(chunks), len(found))
	return found, nil
}

func normalizeKeys(keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	unique := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if !types.ValidAccession(k) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, k)
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}
	sort.Strings(unique)
	return unique, nil
}

func chunk(keys []string, size int) [][]string {
	if size <= 0 {
		size = len(keys)
	}
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		out = append(out, keys[start:end])
	}
	return out
}

func inList(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = "'" + k + "'"
	}
	return strings.Join(quoted, ", ")
}

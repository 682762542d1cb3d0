package deduplication

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quotedKey = regexp.MustCompile(`'(\d{10}-\d{2}-\d{6})'`)

// fakeEngine answers queries from a fixed set of stored keys and records
// every query it receives.
type fakeEngine struct {
	existing map[string]bool // key -> parsed
	queries  []string
	failOn   int // 1-based query number to fail, 0 for never
}

func (f *fakeEngine) QueryColumn(_ context.Context, query string) ([]string, error) {
	f.queries = append(f.queries, query)
	if f.failOn == len(f.queries) {
		return nil, errors.New("engine unavailable")
	}
	parsedOnly := strings.Contains(query, "status = 'PARSED'")
	var out []string
	for _, m := range quotedKey.FindAllStringSubmatch(query, -1) {
		parsed, ok := f.existing[m[1]]
		if !ok || (parsedOnly && !parsed) {
			continue
		}
		out = append(out, m[1])
	}
	return out, nil
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("0001213900-26-%06d", i)
	}
	return out
}

func TestCheckExisting_ChunksQueries(t *testing.T) {
	for _, k := range []int{1, 199, 200, 201, 450, 1000} {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			engine := &fakeEngine{}
			_, err := NewChecker(engine, "").CheckExisting(context.Background(), keys(k))
			require.NoError(t, err)

			want := (k + 199) / 200
			assert.Len(t, engine.queries, want)
			for _, q := range engine.queries {
				assert.LessOrEqual(t, len(quotedKey.FindAllString(q, -1)), 200)
			}
		})
	}
}

func TestCheckExisting_NoKeysNoQuery(t *testing.T) {
	engine := &fakeEngine{}
	found, err := NewChecker(engine, "").CheckExisting(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, engine.queries)
}

func TestCheckExisting_UnionsChunks(t *testing.T) {
	all := keys(450)
	engine := &fakeEngine{existing: map[string]bool{
		all[3]:   false,
		all[250]: true,
		all[449]: false,
	}}
	found, err := NewChecker(engine, "").CheckExisting(context.Background(), all)
	require.NoError(t, err)
	assert.Len(t, found, 3)
	assert.Contains(t, found, all[250])
	assert.Contains(t, found, all[449])
}

func TestCheckExisting_DeduplicatesInput(t *testing.T) {
	engine := &fakeEngine{}
	in := append(keys(150), keys(150)...)
	_, err := NewChecker(engine, "").CheckExisting(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, engine.queries, 1)
	assert.Len(t, quotedKey.FindAllString(engine.queries[0], -1), 150)
}

func TestCheckExisting_ChunkFailureFailsWholeCheck(t *testing.T) {
	engine := &fakeEngine{failOn: 2}
	found, err := NewChecker(engine, "").CheckExisting(context.Background(), keys(450))
	require.Error(t, err)
	assert.Nil(t, found)
	assert.Len(t, engine.queries, 2, "later chunks are not attempted")
}

func TestCheckExisting_RejectsInvalidKeys(t *testing.T) {
	engine := &fakeEngine{}
	_, err := NewChecker(engine, "").CheckExisting(context.Background(), []string{"0001213900-26-001445", "x' OR '1'='1"})
	require.ErrorIs(t, err, ErrInvalidKey)
	assert.Empty(t, engine.queries)
}

func TestCheckParsed_OnlyParsedKeys(t *testing.T) {
	engine := &fakeEngine{existing: map[string]bool{
		"0001213900-26-001445": true,
		"0001213900-26-001446": false,
	}}
	found, err := NewChecker(engine, "filings").CheckParsed(context.Background(),
		[]string{"0001213900-26-001445", "0001213900-26-001446", "0001213900-26-001447"})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"0001213900-26-001445": {}}, found)
	assert.Contains(t, engine.queries[0], "FROM filings")
}

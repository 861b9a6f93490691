package secops_test

import (
	"errors"
	"iter"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-secops"
)

var errPage = errors.New("page fetch failed")

// seqOf yields items, then fails with err after failAfter items when err
// is non-nil.
func seqOf[T any](items []T, failAfter int, err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for i, item := range items {
			if err != nil && i == failAfter {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

var logTypeIDs = []string{"OKTA", "WINEVTLOG", "PAN_FIREWALL", "AZURE_AD", "GCP_CLOUDAUDIT"}

func TestCollectAndCollectN(t *testing.T) {
	tests := []struct {
		name    string
		seq     iter.Seq2[string, error]
		n       int // 0 means Collect
		want    []string
		wantErr error
	}{
		{name: "all", seq: seqOf(logTypeIDs, 0, nil), want: logTypeIDs},
		{name: "empty", seq: seqOf([]string{}, 0, nil), want: []string{}},
		{name: "partial on error", seq: seqOf(logTypeIDs, 2, errPage), want: []string{"OKTA", "WINEVTLOG"}, wantErr: errPage},
		{name: "first n", seq: seqOf(logTypeIDs, 0, nil), n: 2, want: []string{"OKTA", "WINEVTLOG"}},
		{name: "n beyond end", seq: seqOf(logTypeIDs[:1], 0, nil), n: 10, want: []string{"OKTA"}},
		{name: "error before n", seq: seqOf(logTypeIDs, 1, errPage), n: 4, want: []string{"OKTA"}, wantErr: errPage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				got []string
				err error
			)
			if tt.n == 0 {
				got, err = secops.Collect(tt.seq)
			} else {
				got, err = secops.CollectN(tt.seq, tt.n)
			}

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectN_NonPositive(t *testing.T) {
	got, err := secops.CollectN(seqOf(logTypeIDs, 0, nil), -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFirst(t *testing.T) {
	got, err := secops.First(seqOf(logTypeIDs, 0, nil))
	require.NoError(t, err)
	assert.Equal(t, "OKTA", got)

	_, err = secops.First(seqOf([]string{}, 0, nil))
	require.ErrorIs(t, err, secops.ErrEmptyIterator)

	_, err = secops.First(seqOf(logTypeIDs, 0, errPage))
	require.ErrorIs(t, err, errPage)
}

func TestTake(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"some", 3, []string{"OKTA", "WINEVTLOG", "PAN_FIREWALL"}},
		{"more than available", 50, logTypeIDs},
		{"zero", 0, []string{}},
		{"negative", -2, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := secops.Collect(secops.Take(seqOf(logTypeIDs, 0, nil), tt.n))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("stops pulling after n", func(t *testing.T) {
		pulled := 0
		src := func(yield func(string, error) bool) {
			for _, id := range logTypeIDs {
				pulled++
				if !yield(id, nil) {
					return
				}
			}
		}
		_, err := secops.Collect(secops.Take(src, 2))
		require.NoError(t, err)
		assert.Equal(t, 2, pulled)
	})

	t.Run("error ends iteration", func(t *testing.T) {
		_, err := secops.Collect(secops.Take(seqOf(logTypeIDs, 1, errPage), 4))
		require.ErrorIs(t, err, errPage)
	})
}

func TestFilter(t *testing.T) {
	windows := func(id string) bool { return strings.HasPrefix(id, "WIN") || strings.HasPrefix(id, "AZURE") }

	got, err := secops.Collect(secops.Filter(seqOf(logTypeIDs, 0, nil), windows))
	require.NoError(t, err)
	assert.Equal(t, []string{"WINEVTLOG", "AZURE_AD"}, got)

	got, err = secops.Collect(secops.Filter(seqOf(logTypeIDs, 0, nil), func(string) bool { return false }))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = secops.Collect(secops.Filter(seqOf(logTypeIDs, 3, errPage), windows))
	require.ErrorIs(t, err, errPage)
}

func TestMap(t *testing.T) {
	counts := []string{"10", "20", "x", "30"}
	toInt := func(s string) (int, error) { return strconv.Atoi(s) }

	got, err := secops.Collect(secops.Map(seqOf(counts[:2], 0, nil), toInt))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, got)

	got, err = secops.Collect(secops.Map(seqOf(counts, 0, nil), toInt))
	var numErr *strconv.NumError
	require.ErrorAs(t, err, &numErr)
	assert.Equal(t, []int{10, 20}, got)

	_, err = secops.Collect(secops.Map(seqOf(counts, 1, errPage), toInt))
	require.ErrorIs(t, err, errPage)
}

func TestIteratorComposition(t *testing.T) {
	events := []secops.Event{
		{"name": "e1", "udm": map[string]any{"metadata": map[string]any{"eventType": "USER_LOGIN"}}},
		{"name": "e2", "udm": map[string]any{"metadata": map[string]any{"eventType": "PROCESS_LAUNCH"}}},
		{"name": "e3", "udm": map[string]any{"metadata": map[string]any{"eventType": "USER_LOGIN"}}},
		{"name": "e4", "udm": map[string]any{"metadata": map[string]any{"eventType": "USER_LOGIN"}}},
	}

	logins := secops.Filter(seqOf(events, 0, nil), func(e secops.Event) bool {
		return e.EventType() == "USER_LOGIN"
	})
	names := secops.Map(logins, func(e secops.Event) (string, error) { return e.Name(), nil })

	got, err := secops.Collect(secops.Take(names, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e3"}, got)
}

package capital

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltio/internal/chunk"
	"voltio/internal/model"
	"voltio/internal/providers"
)

func testEntity() model.Entity {
	return model.Entity{ID: "NATURALGAS", Name: "Natural Gas", Source: model.SourceCapital}
}

func testRange() chunk.Range {
	return chunk.Range{
		Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC),
	}
}

func candle(ts string, bid, ask float64) string {
	return fmt.Sprintf(`{
		"snapshotTimeUTC": "%s",
		"closePrice": {"bid": %g, "ask": %g},
		"highPrice": {"bid": %g, "ask": %g},
		"lowPrice": {"bid": %g, "ask": %g}
	}`, ts, bid, ask, bid+1, ask+1, bid-1, ask-1)
}

func TestFetchRangeComputesMidPrice(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprintf(w, `{"prices": [%s, %s], "instrumentType": "COMMODITIES"}`,
			candle("2024-01-01T00:00:00", 2.0, 2.2),
			candle("2024-01-01T01:00:00", 2.1, 2.3))
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL})
	require.NoError(t, err)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)

	assert.Equal(t, "/prices/NATURALGAS", gotPath)
	assert.Contains(t, gotQuery, "resolution=HOUR")
	assert.Contains(t, gotQuery, "from=2024-01-01T00%3A00%3A00")
	assert.Contains(t, gotQuery, "to=2024-01-02T00%3A00%3A00")

	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Value)
	assert.InDelta(t, 2.1, *rows[0].Value, 1e-9)
	require.NotNil(t, rows[0].Bid)
	assert.Equal(t, 2.0, *rows[0].Bid)
	require.NotNil(t, rows[0].ValueMin)
	assert.Equal(t, 1.0, *rows[0].ValueMin)
	require.NotNil(t, rows[0].ValueMax)
	assert.InDelta(t, 3.2, *rows[0].ValueMax, 1e-9)
}

func TestFetchRangePaginatesAtPointCap(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		from := r.URL.Query().Get("from")
		switch calls {
		case 1:
			assert.Equal(t, "2024-01-01T00:00:00", from)
			// Exactly the cap: the client must come back for more.
			fmt.Fprintf(w, `{"prices": [%s, %s]}`,
				candle("2024-01-01T00:00:00", 2.0, 2.2),
				candle("2024-01-01T01:00:00", 2.1, 2.3))
		case 2:
			assert.Equal(t, "2024-01-01T01:00:01", from)
			fmt.Fprintf(w, `{"prices": [%s]}`,
				candle("2024-01-01T02:00:00", 2.2, 2.4))
		default:
			t.Errorf("unexpected call %d", calls)
		}
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL, MaxAPIPoints: 2})
	require.NoError(t, err)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, rows, 3)
	assert.True(t, rows[2].Timestamp.Equal(time.Date(2024, time.January, 1, 2, 0, 0, 0, time.UTC)))
}

func TestFetchRangeEmptyPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices": []}`))
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL})
	require.NoError(t, err)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchRangeMissingQuotesSkipMid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices": [
			{"snapshotTimeUTC": "2024-01-01T00:00:00", "closePrice": {"bid": 2.0}}
		]}`))
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL})
	require.NoError(t, err)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Value)
	require.NotNil(t, rows[0].Bid)
	assert.Nil(t, rows[0].Ask)
}

func TestFetchRangeStatusClassification(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		provider, err := NewWithConfig(Config{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = provider.FetchRange(context.Background(), testEntity(), testRange())
		if status == http.StatusTooManyRequests {
			assert.ErrorIs(t, err, providers.ErrRateLimited, strconv.Itoa(status))
		} else {
			assert.ErrorIs(t, err, providers.ErrTransient, strconv.Itoa(status))
		}
		server.Close()
	}
}

package aemet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltio/internal/chunk"
	"voltio/internal/model"
	"voltio/internal/providers"
)

func testEntity() model.Entity {
	return model.Entity{ID: "3195", Name: "Madrid Retiro", Source: model.SourceAEMET}
}

func testRange() chunk.Range {
	return chunk.Range{
		Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.January, 4, 0, 0, 0, 0, time.UTC),
	}
}

// newTwoStepServer wires the pointer-then-data flow the AEMET API uses.
func newTwoStepServer(t *testing.T, data string) *Provider {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/valores/climatologicos/diarios/datos/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api_key"))
		fmt.Fprintf(w, `{"descripcion": "exito", "estado": 200, "datos": "%s/datos-reales"}`, server.URL)
	})
	mux.HandleFunc("/datos-reales", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(data))
	})

	provider, err := NewWithConfig(Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)
	return provider
}

func TestFetchRangeFollowsDatosPointer(t *testing.T) {
	provider := newTwoStepServer(t, `[
		{"fecha": "2024-01-02", "indicativo": "3195", "nombre": "MADRID, RETIRO", "provincia": "MADRID", "tmed": "10,4", "tmin": "5,2", "tmax": "15,6", "prec": "0,0"},
		{"fecha": "2024-01-01", "indicativo": "3195", "nombre": "MADRID, RETIRO", "provincia": "MADRID", "tmed": "9,8", "tmin": "4,0", "tmax": "14,2", "prec": "1,2"}
	]`)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Sorted ascending despite payload order.
	assert.True(t, rows[0].Timestamp.Before(rows[1].Timestamp))
	require.NotNil(t, rows[0].Value)
	assert.Equal(t, 9.8, *rows[0].Value)
	require.NotNil(t, rows[0].ValueMin)
	assert.Equal(t, 4.0, *rows[0].ValueMin)
	require.NotNil(t, rows[0].ValueMax)
	assert.Equal(t, 14.2, *rows[0].ValueMax)
	assert.Equal(t, "MADRID, RETIRO", rows[0].EntityName)
	assert.Equal(t, "MADRID", rows[0].GeoName)
}

func TestFetchRangeTracePrecipitationIsMissing(t *testing.T) {
	provider := newTwoStepServer(t, `[
		{"fecha": "2024-01-01", "indicativo": "3195", "tmed": "Ip", "tmin": "", "tmax": "varias"}
	]`)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Value)
	assert.Nil(t, rows[0].ValueMin)
	assert.Nil(t, rows[0].ValueMax)
}

func TestFetchRangeRequestPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)

	_, err = provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	assert.Equal(t,
		"/valores/climatologicos/diarios/datos/fechaini/2024-01-01T00:00:00UTC/fechafin/2024-01-03T23:59:59UTC/estacion/3195",
		gotPath)
}

func TestFetchRangeMissingToken(t *testing.T) {
	provider, err := NewWithConfig(Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = provider.FetchRange(context.Background(), testEntity(), testRange())
	assert.ErrorIs(t, err, providers.ErrAuth)
}

func TestFetchRangeEstadoNoDataIsEmpty(t *testing.T) {
	// AEMET answers HTTP 200 with an estado 404 body when the station
	// has nothing recorded for the window. That is an empty result,
	// not a failure.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"descripcion": "No hay datos que satisfagan esos criterios", "estado": 404}`))
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchRangeEmptyDatosIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"descripcion": "exito", "estado": 200, "datos": ""}`))
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)

	rows, err := provider.FetchRange(context.Background(), testEntity(), testRange())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchRangeEstadoAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"descripcion": "API key invalido", "estado": 401}`))
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)

	_, err = provider.FetchRange(context.Background(), testEntity(), testRange())
	assert.ErrorIs(t, err, providers.ErrAuth)
}

func TestFetchRangeHTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	provider, err := NewWithConfig(Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)

	_, err = provider.FetchRange(context.Background(), testEntity(), testRange())
	assert.ErrorIs(t, err, providers.ErrRateLimited)
}

func TestListStations(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/valores/climatologicos/inventarioestaciones/todasestaciones", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"estado": 200, "datos": "%s/inventario"}`, server.URL)
	})
	mux.HandleFunc("/inventario", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"indicativo": "3195", "nombre": "MADRID, RETIRO", "provincia": "MADRID"},
			{"indicativo": "0076", "nombre": "BARCELONA AEROPUERTO", "provincia": "BARCELONA"}
		]`))
	})

	provider, err := NewWithConfig(Config{BaseURL: server.URL, Token: "secret"})
	require.NoError(t, err)

	stations, err := provider.ListStations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "3195", stations[0].Indicativo)
}

// Package aemet wraps the AEMET OpenData API. Most endpoints answer with a
// pointer payload whose "datos" field holds the URL of the actual data, so
// every fetch is a two-step request.
package aemet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"voltio/internal/chunk"
	"voltio/internal/jsonrepair"
	"voltio/internal/model"
	"voltio/internal/providers"
)

const (
	defaultBaseURL        = "https://opendata.aemet.es/opendata/api"
	defaultMaxSpanDays    = 180
	defaultTimeoutSeconds = 30
	defaultUserAgent      = "voltio/0.1"

	dateLayout     = "2006-01-02"
	requestLayout  = "2006-01-02T15:04:05UTC"
	climatologyFmt = "valores/climatologicos/diarios/datos/fechaini/%s/fechafin/%s/estacion/%s"
	stationsPath   = "valores/climatologicos/inventarioestaciones/todasestaciones"
)

// errNoData marks a pointer response carrying no datos URL for the
// requested window. Callers translate it to an empty result.
var errNoData = errors.New("aemet: no data for the requested window")

type Config struct {
	BaseURL     string
	Token       string
	MaxSpanDays int
	Timeout     time.Duration
	UserAgent   string
}

type Provider struct {
	config Config
	client *http.Client
}

func New() (*Provider, error) {
	return NewWithConfig(ConfigFromEnv())
}

func NewWithConfig(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxSpanDays <= 0 {
		cfg.MaxSpanDays = defaultMaxSpanDays
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Provider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL: getenv("AEMET_BASE_URL", defaultBaseURL),
		Token:   strings.TrimSpace(os.Getenv("AEMET_API_TOKEN")),
	}
	cfg.MaxSpanDays = getenvInt("AEMET_MAX_SPAN_DAYS", defaultMaxSpanDays)
	cfg.Timeout = time.Duration(getenvInt("AEMET_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second
	return cfg
}

func (p *Provider) Name() string {
	return string(model.SourceAEMET)
}

func (p *Provider) MaxSpanDays() int {
	return p.config.MaxSpanDays
}

type climatologyRecord struct {
	Fecha      string `json:"fecha"`
	Indicativo string `json:"indicativo"`
	Nombre     string `json:"nombre"`
	Provincia  string `json:"provincia"`
	Tmed       string `json:"tmed"`
	Tmin       string `json:"tmin"`
	Tmax       string `json:"tmax"`
	Prec       string `json:"prec"`
}

// FetchRange retrieves daily climatological values for one station over
// [r.Start, r.End).
func (p *Provider) FetchRange(ctx context.Context, entity model.Entity, r chunk.Range) ([]model.ObservationRow, error) {
	if p.config.Token == "" {
		return nil, fmt.Errorf("%w: AEMET_API_TOKEN is not set", providers.ErrAuth)
	}

	start := r.Start.Format(requestLayout)
	end := r.End.Add(-time.Second).Format(requestLayout)
	endpoint := fmt.Sprintf("%s/"+climatologyFmt, p.config.BaseURL, url.PathEscape(start), url.PathEscape(end), url.PathEscape(entity.ID))

	body, err := p.doRequest(ctx, endpoint)
	if errors.Is(err, errNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []climatologyRecord
	if err := jsonrepair.Decode(body, &records); err != nil {
		return nil, fmt.Errorf("%w: station %s: %v", providers.ErrMalformed, entity.ID, err)
	}

	rows := make([]model.ObservationRow, 0, len(records))
	for _, record := range records {
		timestamp, err := time.Parse(dateLayout, record.Fecha)
		if err != nil {
			continue
		}
		name := record.Nombre
		if name == "" {
			name = entity.Name
		}
		row := model.ObservationRow{
			EntityID:   entity.ID,
			EntityName: name,
			Timestamp:  timestamp,
			GeoName:    record.Provincia,
		}
		if value, ok := parseDecimalComma(record.Tmed); ok {
			row.Value = model.Value(value)
		}
		if value, ok := parseDecimalComma(record.Tmin); ok {
			row.ValueMin = model.Value(value)
		}
		if value, ok := parseDecimalComma(record.Tmax); ok {
			row.ValueMax = model.Value(value)
		}
		rows = append(rows, row)
	}
	return providers.SortAndDedupe(rows), nil
}

// Station is one entry of the station inventory.
type Station struct {
	Indicativo string `json:"indicativo"`
	Nombre     string `json:"nombre"`
	Provincia  string `json:"provincia"`
}

// ListStations fetches the station inventory for catalog builds.
func (p *Provider) ListStations(ctx context.Context) ([]Station, error) {
	if p.config.Token == "" {
		return nil, fmt.Errorf("%w: AEMET_API_TOKEN is not set", providers.ErrAuth)
	}

	body, err := p.doRequest(ctx, p.config.BaseURL+"/"+stationsPath)
	if errors.Is(err, errNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stations []Station
	if err := jsonrepair.Decode(body, &stations); err != nil {
		return nil, fmt.Errorf("%w: station inventory: %v", providers.ErrMalformed, err)
	}
	return stations, nil
}

// doRequest performs the pointer request and, when the answer carries a
// datos URL, follows it for the real payload.
func (p *Provider) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var pointer struct {
		Estado int    `json:"estado"`
		Datos  string `json:"datos"`
	}
	if err := jsonrepair.Decode(body, &pointer); err != nil {
		// Some endpoints answer with the data directly.
		return body, nil
	}
	if pointer.Datos == "" {
		switch {
		case pointer.Estado == 0, pointer.Estado == http.StatusNotFound,
			pointer.Estado >= 200 && pointer.Estado < 300:
			// Estado 404 means "no data for those criteria", not a
			// failure. The window simply has nothing recorded.
			return nil, errNoData
		}
		return nil, fmt.Errorf("%w: aemet estado %d", providers.ClassifyStatus(pointer.Estado), pointer.Estado)
	}
	return p.get(ctx, pointer.Datos)
}

func (p *Provider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api_key", p.config.Token)
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providers.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.ClassifyNetworkError(err)
	}

	if classified := providers.ClassifyStatus(resp.StatusCode); classified != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
		return nil, fmt.Errorf("%w: aemet %s: %s", classified, resp.Status, text)
	}
	return body, nil
}

// parseDecimalComma converts AEMET numerics, which use a comma as the
// decimal separator ("5,8"). "Ip" marks trace precipitation; it and other
// non-numeric markers map to a missing value.
func parseDecimalComma(raw string) (float64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(strings.ReplaceAll(trimmed, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

var _ providers.Source = (*Provider)(nil)

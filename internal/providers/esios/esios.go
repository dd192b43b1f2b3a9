package esios

import (
	"context"
	"encoding/json"
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
	defaultBaseURL        = "https://api.esios.ree.es"
	defaultTimeTrunc      = "hour"
	defaultMaxSpanDays    = 365
	defaultTimeoutSeconds = 30
	defaultUserAgent      = "voltio/0.1"
)

type Config struct {
	BaseURL     string
	Token       string
	TimeTrunc   string
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
	if strings.TrimSpace(cfg.TimeTrunc) == "" {
		cfg.TimeTrunc = defaultTimeTrunc
	}
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
		BaseURL:   getenv("ESIOS_BASE_URL", defaultBaseURL),
		Token:     strings.TrimSpace(os.Getenv("ESIOS_API_TOKEN")),
		TimeTrunc: getenv("ESIOS_TIME_TRUNC", defaultTimeTrunc),
	}
	cfg.MaxSpanDays = getenvInt("ESIOS_MAX_SPAN_DAYS", defaultMaxSpanDays)
	cfg.Timeout = time.Duration(getenvInt("ESIOS_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second
	return cfg
}

func (p *Provider) Name() string {
	return string(model.SourceESIOS)
}

func (p *Provider) MaxSpanDays() int {
	return p.config.MaxSpanDays
}

// FetchRange retrieves hourly values for one indicator over [r.Start, r.End).
func (p *Provider) FetchRange(ctx context.Context, entity model.Entity, r chunk.Range) ([]model.ObservationRow, error) {
	if p.config.Token == "" {
		return nil, fmt.Errorf("%w: ESIOS_API_TOKEN is not set", providers.ErrAuth)
	}

	params := url.Values{}
	params.Set("start_date", r.Start.Format("2006-01-02T15:04:05"))
	// The API treats end_date as inclusive; back off one second to keep
	// the chunk half-open.
	params.Set("end_date", r.End.Add(-time.Second).Format("2006-01-02T15:04:05"))
	params.Set("time_trunc", p.config.TimeTrunc)

	endpoint := fmt.Sprintf("%s/indicators/%s?%s", p.config.BaseURL, url.PathEscape(entity.ID), params.Encode())
	body, err := p.doRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	rows, err := parseIndicatorValues(body, entity)
	if err != nil {
		return nil, err
	}
	return providers.SortAndDedupe(rows), nil
}

// Indicator is one entry of the ESIOS indicators listing.
type Indicator struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ShortName   string `json:"short_name"`
	Description string `json:"description"`
}

// ListIndicators fetches the full indicator listing for catalog builds.
func (p *Provider) ListIndicators(ctx context.Context) ([]Indicator, error) {
	if p.config.Token == "" {
		return nil, fmt.Errorf("%w: ESIOS_API_TOKEN is not set", providers.ErrAuth)
	}

	body, err := p.doRequest(ctx, p.config.BaseURL+"/indicators")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Indicators []Indicator `json:"indicators"`
	}
	if err := jsonrepair.Decode(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: indicators listing: %v", providers.ErrMalformed, err)
	}
	return payload.Indicators, nil
}

func (p *Provider) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", p.config.Token)
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
		return nil, fmt.Errorf("%w: esios %s: %s", classified, resp.Status, snippet(body))
	}
	return body, nil
}

func parseIndicatorValues(body []byte, entity model.Entity) ([]model.ObservationRow, error) {
	var payload map[string]any
	if err := jsonrepair.Decode(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: indicator %s: %v", providers.ErrMalformed, entity.ID, err)
	}

	indicator, ok := payload["indicator"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: indicator %s: missing indicator object", providers.ErrMalformed, entity.ID)
	}
	name, _ := getString(indicator, "name")
	if name == "" {
		name = entity.Name
	}

	rawValues, ok := indicator["values"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: indicator %s: missing values", providers.ErrMalformed, entity.ID)
	}

	rows := make([]model.ObservationRow, 0, len(rawValues))
	for _, item := range rawValues {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		timestamp, ok := parseTimestamp(entry)
		if !ok {
			continue
		}
		row := model.ObservationRow{
			EntityID:   entity.ID,
			EntityName: name,
			Timestamp:  timestamp,
			GeoName:    stringOrEmpty(entry, "geo_name"),
		}
		if value, ok := getFloat(entry, "value"); ok {
			row.Value = model.Value(value)
		}
		if value, ok := getFloat(entry, "value_min"); ok {
			row.ValueMin = model.Value(value)
		}
		if value, ok := getFloat(entry, "value_max"); ok {
			row.ValueMax = model.Value(value)
		}
		if value, ok := getFloat(entry, "geo_id"); ok {
			geoID := int64(value)
			row.GeoID = &geoID
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTimestamp(entry map[string]any) (time.Time, bool) {
	for _, key := range []string{"datetime", "datetime_utc"} {
		raw, ok := getString(entry, key)
		if !ok {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func getString(row map[string]any, key string) (string, bool) {
	value, ok := row[key]
	if !ok {
		return "", false
	}
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	default:
		return "", false
	}
}

func stringOrEmpty(row map[string]any, key string) string {
	value, _ := getString(row, key)
	return value
}

func getFloat(row map[string]any, key string) (float64, bool) {
	value, ok := row[key]
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return typed, true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
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

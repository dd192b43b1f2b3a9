package capital

import (
	"context"
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
	defaultBaseURL        = "https://api-capital.backend-capital.com/api/v1"
	defaultResolution     = "HOUR"
	defaultMaxSpanDays    = 30
	defaultMaxAPIPoints   = 10000
	defaultTimeoutSeconds = 30
	defaultUserAgent      = "voltio/0.1"

	requestLayout = "2006-01-02T15:04:05"
)

type Config struct {
	BaseURL      string
	Resolution   string
	MaxSpanDays  int
	MaxAPIPoints int
	Timeout      time.Duration
	UserAgent    string
}

type Provider struct {
	config Config
	client *http.Client
}

// New builds a provider from the environment. Capital.com market data
// needs no credential.
func New() (*Provider, error) {
	return NewWithConfig(ConfigFromEnv())
}

func NewWithConfig(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Resolution) == "" {
		cfg.Resolution = defaultResolution
	}
	if cfg.MaxSpanDays <= 0 {
		cfg.MaxSpanDays = defaultMaxSpanDays
	}
	if cfg.MaxAPIPoints <= 0 {
		cfg.MaxAPIPoints = defaultMaxAPIPoints
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
		BaseURL:    getenv("CAPITAL_BASE_URL", defaultBaseURL),
		Resolution: getenv("CAPITAL_RESOLUTION", defaultResolution),
	}
	cfg.MaxSpanDays = getenvInt("CAPITAL_MAX_SPAN_DAYS", defaultMaxSpanDays)
	cfg.MaxAPIPoints = getenvInt("CAPITAL_MAX_API_POINTS", defaultMaxAPIPoints)
	cfg.Timeout = time.Duration(getenvInt("CAPITAL_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second
	return cfg
}

func (p *Provider) Name() string {
	return string(model.SourceCapital)
}

func (p *Provider) MaxSpanDays() int {
	return p.config.MaxSpanDays
}

type pricePayload struct {
	Prices []struct {
		SnapshotTimeUTC string     `json:"snapshotTimeUTC"`
		ClosePrice      quotePair  `json:"closePrice"`
		HighPrice       *quotePair `json:"highPrice"`
		LowPrice        *quotePair `json:"lowPrice"`
	} `json:"prices"`
	InstrumentType string `json:"instrumentType"`
}

type quotePair struct {
	Bid *float64 `json:"bid"`
	Ask *float64 `json:"ask"`
}

// FetchRange retrieves candle prices for one EPIC over [r.Start, r.End).
// The API caps points per call, so long chunks are drained with follow-up
// calls starting after the last returned candle.
func (p *Provider) FetchRange(ctx context.Context, entity model.Entity, r chunk.Range) ([]model.ObservationRow, error) {
	rows := make([]model.ObservationRow, 0)
	cursor := r.Start

	for cursor.Before(r.End) {
		batch, err := p.fetchPage(ctx, entity, cursor, r.End)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		rows = append(rows, batch...)

		last := batch[len(batch)-1].Timestamp
		if !last.After(cursor) || len(batch) < p.config.MaxAPIPoints {
			break
		}
		cursor = last.Add(time.Second)
	}

	return providers.SortAndDedupe(rows), nil
}

func (p *Provider) fetchPage(ctx context.Context, entity model.Entity, from, to time.Time) ([]model.ObservationRow, error) {
	params := url.Values{}
	params.Set("resolution", p.config.Resolution)
	params.Set("max", strconv.Itoa(p.config.MaxAPIPoints))
	params.Set("from", from.UTC().Format(requestLayout))
	params.Set("to", to.UTC().Format(requestLayout))

	endpoint := fmt.Sprintf("%s/prices/%s?%s", p.config.BaseURL, url.PathEscape(entity.ID), params.Encode())
	body, err := p.doRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payload pricePayload
	if err := jsonrepair.Decode(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: epic %s: %v", providers.ErrMalformed, entity.ID, err)
	}

	rows := make([]model.ObservationRow, 0, len(payload.Prices))
	for _, price := range payload.Prices {
		timestamp, err := parseSnapshotTime(price.SnapshotTimeUTC)
		if err != nil {
			continue
		}
		row := model.ObservationRow{
			EntityID:   entity.ID,
			EntityName: entity.Name,
			Timestamp:  timestamp,
			Bid:        price.ClosePrice.Bid,
			Ask:        price.ClosePrice.Ask,
		}
		if price.ClosePrice.Bid != nil && price.ClosePrice.Ask != nil {
			row.Value = model.Value((*price.ClosePrice.Bid + *price.ClosePrice.Ask) / 2)
		}
		if price.LowPrice != nil && price.LowPrice.Bid != nil {
			row.ValueMin = model.Value(*price.LowPrice.Bid)
		}
		if price.HighPrice != nil && price.HighPrice.Ask != nil {
			row.ValueMax = model.Value(*price.HighPrice.Ask)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseSnapshotTime(raw string) (time.Time, error) {
	for _, layout := range []string{requestLayout, time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("capital: unparseable snapshot time %q", raw)
}

func (p *Provider) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
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
		return nil, fmt.Errorf("%w: capital %s: %s", classified, resp.Status, text)
	}
	return body, nil
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

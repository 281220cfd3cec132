package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// DefaultYahooURL is the Yahoo Finance v8 chart endpoint.
const DefaultYahooURL = "https://query2.finance.yahoo.com/v8/finance/chart"

// ErrYahooNoResult is returned when the chart response carries no result.
var ErrYahooNoResult = errors.New("yahoo: no result")

// Yahoo queries the Yahoo Finance v8 chart API.
type Yahoo struct {
	baseURL string
	cli     *http.Client
}

// NewYahoo creates a client for the chart API rooted at baseURL
// (DefaultYahooURL when empty). The client timeout bounds every call.
func NewYahoo(baseURL string, timeout time.Duration) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Yahoo{
		baseURL: baseURL,
		cli:     &http.Client{Timeout: timeout},
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string          `json:"symbol"`
		Currency           string          `json:"currency"`
		LongName           string          `json:"longName"`
		ShortName          string          `json:"shortName"`
		RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
		RegularMarketTime  int64           `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []decimal.NullDecimal `json:"open"`
			High   []decimal.NullDecimal `json:"high"`
			Low    []decimal.NullDecimal `json:"low"`
			Close  []decimal.NullDecimal `json:"close"`
			Volume []*int64              `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (y *Yahoo) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	r, err := y.chart(ctx, symbol, url.Values{"interval": {"1m"}, "range": {"1d"}})
	if err != nil {
		return model.Quote{}, err
	}

	price := r.Meta.RegularMarketPrice
	asOf := time.Unix(r.Meta.RegularMarketTime, 0).UTC()

	// Fallback: last non-null close if meta is missing.
	if !price.IsPositive() || r.Meta.RegularMarketTime == 0 {
		if len(r.Indicators.Quote) > 0 {
			closes := r.Indicators.Quote[0].Close
			for i := min(len(closes), len(r.Timestamp)) - 1; i >= 0; i-- {
				if c := closes[i]; c.Valid && c.Decimal.IsPositive() {
					price = c.Decimal
					asOf = time.Unix(r.Timestamp[i], 0).UTC()
					break
				}
			}
		}
	}

	if !price.IsPositive() {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if asOf.Unix() == 0 {
		asOf = time.Now().UTC()
	}

	name := r.Meta.LongName
	if name == "" {
		name = r.Meta.ShortName
	}
	if name == "" {
		name = symbol
	}
	return model.Quote{
		Symbol:   symbol,
		Price:    price,
		Name:     name,
		Currency: r.Meta.Currency,
		AsOf:     asOf,
	}, nil
}

func (y *Yahoo) History(ctx context.Context, symbol, period string) ([]model.HistoryPoint, error) {
	if !ValidPeriod(period) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	r, err := y.chart(ctx, symbol, url.Values{"interval": {"1d"}, "range": {period}})
	if err != nil {
		return nil, err
	}

	points := []model.HistoryPoint{}
	if len(r.Indicators.Quote) == 0 {
		return points, nil
	}
	q := r.Indicators.Quote[0]
	for i, ts := range r.Timestamp {
		c := at(q.Close, i)
		if !c.Valid {
			// Yahoo emits null bars for halted sessions.
			continue
		}
		p := model.HistoryPoint{
			Time:  time.Unix(ts, 0).UTC(),
			Open:  at(q.Open, i).Decimal,
			High:  at(q.High, i).Decimal,
			Low:   at(q.Low, i).Decimal,
			Close: c.Decimal,
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			p.Volume = *q.Volume[i]
		}
		points = append(points, p)
	}
	return points, nil
}

func at(xs []decimal.NullDecimal, i int) decimal.NullDecimal {
	if i < len(xs) {
		return xs[i]
	}
	return decimal.NullDecimal{}
}

func (y *Yahoo) chart(ctx context.Context, symbol string, params url.Values) (chartResult, error) {
	u := fmt.Sprintf("%s/%s?%s", y.baseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return chartResult{}, err
	}
	req.Header.Set("User-Agent", "trading-engine/1.0")

	resp, err := y.cli.Do(req)
	if err != nil {
		return chartResult{}, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return chartResult{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return chartResult{}, fmt.Errorf("yahoo http %d", resp.StatusCode)
	}

	var raw chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return chartResult{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if raw.Chart.Error != nil && raw.Chart.Error.Code == "Not Found" {
		return chartResult{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if len(raw.Chart.Result) == 0 {
		return chartResult{}, fmt.Errorf("%w: %w %s", ErrSymbolNotFound, ErrYahooNoResult, symbol)
	}
	return raw.Chart.Result[0], nil
}

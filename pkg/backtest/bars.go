package backtest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

var ErrNoBars = errors.New("no price bars")

type barDTO struct {
	Date   string `csv:"Date"`
	Open   string `csv:"Open"`
	High   string `csv:"High"`
	Low    string `csv:"Low"`
	Close  string `csv:"Close"`
	Volume string `csv:"Volume"`
}

func (dto barDTO) toModel() (models.PriceBar, error) {
	raw := strings.TrimSpace(dto.Date)
	if len(raw) > 10 {
		raw = raw[:10]
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("bad date %q: %w", dto.Date, err)
	}

	closePrice, err := parseNumber(dto.Close)
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("%s close: %w", raw, err)
	}

	bar := models.PriceBar{Date: date, Close: closePrice}
	bar.Open, _ = parseNumber(dto.Open)
	bar.High, _ = parseNumber(dto.High)
	bar.Low, _ = parseNumber(dto.Low)
	if v, err := parseNumber(dto.Volume); err == nil {
		bar.Volume = int64(v)
	}
	return bar, nil
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
}

// LoadBars reads daily bars with Date,Open,High,Low,Close,Volume columns and
// returns them in date order. Rows without a usable close are skipped.
func LoadBars(r io.Reader) ([]models.PriceBar, error) {
	var rows []barDTO
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("error unmarshalling price bars: %w", err)
	}

	bars := make([]models.PriceBar, 0, len(rows))
	for _, row := range rows {
		bar, err := row.toModel()
		if err != nil || bar.Close <= 0 {
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, ErrNoBars
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

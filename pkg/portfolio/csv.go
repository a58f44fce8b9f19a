package portfolio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

var ErrUnknownFormat = errors.New("unable to detect CSV format; use an IBKR export or Symbol,Quantity,AvgCost,CurrentPrice")

type Format string

const (
	FormatAuto   Format = "auto"
	FormatIBKR   Format = "ibkr"
	FormatSimple Format = "simple"
)

// OptionHolding is an option line of an IBKR export. Quantity is negative for short calls.
type OptionHolding struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AverageCost  float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
}

type Snapshot struct {
	Stocks   []models.StockPosition `json:"stocks"`
	Options  []OptionHolding        `json:"options"`
	LoadedAt time.Time              `json:"loaded_at"`
}

// AccountSummary derives what a CSV can tell about the account. Cash, buying
// power and realized P&L are not present in the exports and stay zero.
func (s Snapshot) AccountSummary() models.AccountSummary {
	var value, cost float64
	for _, st := range s.Stocks {
		value += st.MarketValue()
		cost += st.CostBasis()
	}
	return models.AccountSummary{
		NetLiquidation: value,
		UnrealizedPnL:  value - cost,
		UpdatedAt:      s.LoadedAt,
	}
}

// occSymbol matches OCC style option symbols such as "AAPL  240621C00190000".
var occSymbol = regexp.MustCompile(`^[A-Z.]{1,6}\s*\d{6}[CP]\d{8}$`)

func isOptionSymbol(symbol string) bool {
	return strings.Contains(symbol, " ") || occSymbol.MatchString(symbol)
}

// LoadCSV parses a portfolio export. FormatAuto picks IBKR when the header has
// "Market Value" or "Average Cost", simple when it has Symbol and Quantity.
func LoadCSV(r io.Reader, format Format) (Snapshot, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read CSV: %w", err)
	}

	rows, err := gocsv.CSVToMaps(bytes.NewReader(content))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse CSV: %w", err)
	}
	rows = normalizeKeys(rows)

	if format == "" || format == FormatAuto {
		format = detectFormat(content)
	}

	snap := Snapshot{
		Stocks:   []models.StockPosition{},
		Options:  []OptionHolding{},
		LoadedAt: time.Now(),
	}
	switch format {
	case FormatIBKR:
		err = parseIBKR(rows, &snap)
	case FormatSimple:
		err = parseSimple(rows, &snap)
	default:
		return Snapshot{}, ErrUnknownFormat
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func detectFormat(content []byte) Format {
	line, _, _ := strings.Cut(string(content), "\n")
	columns := make(map[string]bool)
	for _, col := range strings.Split(line, ",") {
		columns[strings.ToLower(strings.Trim(strings.TrimSpace(col), `"`))] = true
	}

	switch {
	case columns["market value"] || columns["average cost"]:
		return FormatIBKR
	case columns["symbol"] && columns["quantity"]:
		return FormatSimple
	}
	return ""
}

func normalizeKeys(rows []map[string]string) []map[string]string {
	for i, row := range rows {
		clean := make(map[string]string, len(row))
		for k, v := range row {
			clean[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		rows[i] = clean
	}
	return rows
}

// number reads the first present column as a float. Thousands separators and
// a leading dollar sign are accepted; blanks read as zero.
func number(row map[string]string, columns ...string) (float64, error) {
	for _, col := range columns {
		raw, ok := row[col]
		if !ok {
			continue
		}
		raw = strings.NewReplacer(",", "", "$", "").Replace(raw)
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", col, err)
		}
		return v, nil
	}
	return 0, nil
}

func parseIBKR(rows []map[string]string, snap *Snapshot) error {
	for i, row := range rows {
		symbol := row["Symbol"]
		if symbol == "" || symbol == "Total" {
			continue
		}

		qty, err := number(row, "Quantity")
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		avg, err := number(row, "Average Cost")
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		price, err := number(row, "Price")
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		value, err := number(row, "Market Value")
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}

		if isOptionSymbol(symbol) {
			snap.Options = append(snap.Options, OptionHolding{
				Symbol:       symbol,
				Quantity:     qty,
				AverageCost:  avg,
				CurrentPrice: price,
				MarketValue:  value,
			})
			continue
		}
		snap.Stocks = append(snap.Stocks, models.StockPosition{
			Symbol:       symbol,
			Shares:       int(qty),
			AverageCost:  avg,
			CurrentPrice: price,
		})
	}
	return nil
}

func parseSimple(rows []map[string]string, snap *Snapshot) error {
	for i, row := range rows {
		symbol := row["Symbol"]
		if symbol == "" {
			continue
		}

		qty, err := number(row, "Quantity")
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		avg, err := number(row, "AvgCost", "Average Cost")
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		price, err := number(row, "CurrentPrice", "Price")
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}

		snap.Stocks = append(snap.Stocks, models.StockPosition{
			Symbol:       strings.ToUpper(symbol),
			Shares:       int(qty),
			AverageCost:  avg,
			CurrentPrice: price,
		})
	}
	return nil
}

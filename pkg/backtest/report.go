package backtest

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report writes a strategy comparison table followed by the best performers.
func Report(w io.Writer, symbol string, results []Result) error {
	if len(results) == 0 {
		_, err := io.WriteString(w, "No backtest results\n")
		return err
	}

	p := message.NewPrinter(language.English)
	display := &strings.Builder{}

	fmt.Fprintf(display, "Covered Call Backtest: %s\n", symbol)
	table := tablewriter.NewWriter(display)
	table.SetHeader([]string{"Strategy", "Trades", "Assigned", "Win Rate", "Premium", "Stock Gains", "Missed Gains", "Total Return", "Return %", "Annualized %"})
	for _, r := range results {
		table.Append([]string{
			r.Params.Name,
			fmt.Sprintf("%d", r.NumTrades),
			fmt.Sprintf("%d", r.NumAssigned),
			fmt.Sprintf("%.1f%%", r.WinRate*100),
			p.Sprintf("$%.2f", r.TotalPremium),
			p.Sprintf("$%.2f", r.TotalStockGains),
			p.Sprintf("$%.2f", r.TotalMissedGains),
			p.Sprintf("$%.2f", r.TotalReturn),
			fmt.Sprintf("%.2f%%", r.TotalReturnPct),
			fmt.Sprintf("%.2f%%", r.AnnualizedReturnPct),
		})
	}
	table.Render()

	byReturn, byWinRate := Best(results)
	p.Fprintf(display, "\nBest total return: %s ($%.2f, %.2f%%)\n", byReturn.Params.Name, byReturn.TotalReturn, byReturn.TotalReturnPct)
	p.Fprintf(display, "Best win rate: %s (%.1f%%)\n", byWinRate.Params.Name, byWinRate.WinRate*100)

	_, err := io.WriteString(w, display.String())
	return err
}

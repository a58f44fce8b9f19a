package optimizer

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report writes a human readable summary of an optimization result.
func Report(w io.Writer, r *Result) error {
	if r == nil {
		_, err := io.WriteString(w, "Insufficient data for optimization report\n")
		return err
	}

	p := message.NewPrinter(language.English)
	display := &strings.Builder{}

	display.WriteString("Strategy Optimization Report\n")
	params := tablewriter.NewWriter(display)
	params.SetHeader([]string{"Parameter", "Value"})
	params.SetAlignment(tablewriter.ALIGN_LEFT)
	params.Append([]string{"Optimal DTE", fmt.Sprintf("%d days", r.OptimalDTE)})
	params.Append([]string{"Optimal Delta", fmt.Sprintf("%.2f (%.2f-%.2f)", r.OptimalDelta, r.OptimalDeltaRange.Low, r.OptimalDeltaRange.High)})
	params.Append([]string{"Min Annual Return", fmt.Sprintf("%.1f%%", r.MinAnnualReturn)})
	params.Append([]string{"Win Rate", fmt.Sprintf("%.1f%%", r.WinRate)})
	params.Append([]string{"Avg Annual Return", fmt.Sprintf("%.1f%%", r.AvgReturn)})
	params.Append([]string{"Avg Profit/Trade", p.Sprintf("$%.2f", r.AvgProfitPerTrade)})
	params.Append([]string{"Sample Size", fmt.Sprintf("%d trades (%s confidence)", r.SampleSize, r.Confidence)})
	params.Render()

	if len(r.BestSymbols) > 0 {
		display.WriteString("\nBest Symbols\n")
		symbols := tablewriter.NewWriter(display)
		symbols.SetHeader([]string{"Symbol", "Avg Profit", "Total Profit", "Trades", "Annual Return"})
		for _, s := range r.BestSymbols {
			symbols.Append([]string{
				s.Symbol,
				p.Sprintf("$%.2f", s.AvgProfit),
				p.Sprintf("$%.2f", s.TotalProfit),
				fmt.Sprintf("%d", s.Trades),
				fmt.Sprintf("%.1f%%", s.AvgAnnualReturn),
			})
		}
		symbols.Render()
	}

	_, err := io.WriteString(w, display.String())
	return err
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregtusar/coveredcalls/internal/config"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/trader"
)

func newScanCmd() *cobra.Command {
	var (
		riskLevel string
		topN      int
		execute   bool
	)

	cmd := &cobra.Command{
		Use:   "scan [SYMBOL...]",
		Short: "Rank covered calls for held symbols",
		Long: `Ranks the call chain of every symbol given (or every configured symbol)
at the chosen risk level. With --execute the best safety-approved call is sold
for each symbol that still has uncovered shares.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, func(cfg *config.Config) {
				if len(args) > 0 {
					cfg.Trading.Symbols = args
				}
				if riskLevel != "" {
					cfg.Trading.RiskLevel = riskLevel
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if execute {
				if err := a.engine.Restore(ctx); err != nil {
					return err
				}
				opened, err := a.engine.ScanAndTrade(ctx)
				if err != nil {
					return err
				}
				return printPositions(cmd, opened)
			}

			symbols := a.cfg.Trading.Symbols
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols to scan; pass them as arguments or set trading.symbols")
			}

			recs := make([]trader.Recommendation, 0, len(symbols))
			for _, symbol := range symbols {
				rec, err := a.engine.Recommend(ctx, symbol, a.cfg.RiskLevel(), topN)
				if err != nil {
					a.logger.WithError(err).WithField("symbol", symbol).Warn("Scan failed")
					continue
				}
				recs = append(recs, rec)
			}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			return printRecommendations(cmd, recs)
		},
	}

	cmd.Flags().StringVar(&riskLevel, "risk-level", "", "conservative, moderate or aggressive (default from config)")
	cmd.Flags().IntVar(&topN, "top", 5, "number of calls to show per symbol")
	cmd.Flags().BoolVar(&execute, "execute", false, "sell the best call for each symbol")
	return cmd
}

func printRecommendations(cmd *cobra.Command, recs []trader.Recommendation) error {
	out := cmd.OutOrStdout()
	for _, rec := range recs {
		fmt.Fprintf(out, "\n%s @ %s (%s)\n", rec.Symbol, money(rec.StockPrice), strings.ToLower(string(rec.RiskLevel)))
		if len(rec.Options) == 0 {
			fmt.Fprintln(out, "No eligible calls")
			continue
		}

		table := newTable(out, "Contract", "Strike", "DTE", "Bid", "Ask", "Delta", "IV", "OTM", "Score")
		for _, so := range rec.Options {
			o := so.Option
			table.Append([]string{
				o.ContractID,
				fmt.Sprintf("%.2f", o.Strike),
				fmt.Sprintf("%d", so.DTE),
				fmt.Sprintf("%.2f", o.Bid),
				fmt.Sprintf("%.2f", o.Ask),
				fmt.Sprintf("%.3f", o.Delta),
				pct(o.ImpliedVolatility),
				pct(o.PercentOTM(rec.StockPrice)),
				fmt.Sprintf("%.1f", so.Score),
			})
		}
		table.Render()
	}
	return nil
}

func printPositions(cmd *cobra.Command, positions []models.CoveredCall) error {
	if jsonMode {
		return printJSON(cmd.OutOrStdout(), positions)
	}
	out := cmd.OutOrStdout()
	if len(positions) == 0 {
		fmt.Fprintln(out, "No positions")
		return nil
	}

	table := newTable(out, "ID", "Symbol", "Contract", "Contracts", "DTE", "Premium", "Status")
	for _, p := range positions {
		table.Append([]string{
			p.ID,
			p.Stock.Symbol,
			p.Option.ContractID,
			fmt.Sprintf("%d", p.Contracts),
			fmt.Sprintf("%d", p.Option.DaysToExpiration()),
			money(p.PremiumCollected),
			string(p.Status),
		})
	}
	table.Render()
	return nil
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregtusar/coveredcalls/pkg/backtest"
	"github.com/gregtusar/coveredcalls/pkg/ledger"
	"github.com/gregtusar/coveredcalls/pkg/optimizer"
)

const defaultHistoryDays = 180

// openLedger loads config and opens only the trade ledger, for commands that
// never talk to a broker.
func openLedger() (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.openLedger(); err != nil {
		return nil, err
	}
	return a, nil
}

func lookback(cmd *cobra.Command, a *app, days int) time.Time {
	if !cmd.Flags().Changed("days") && a.cfg.Trading.HistoryDays > 0 {
		days = a.cfg.Trading.HistoryDays
	}
	return time.Now().AddDate(0, 0, -days)
}

type optimizeOutput struct {
	Result   *optimizer.Result `json:"result"`
	Current  optimizer.Params  `json:"current"`
	Adjusted optimizer.Params  `json:"adjusted"`
}

func newOptimizeCmd() *cobra.Command {
	var (
		days   int
		symbol string
		rate   float64
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Find the entry parameters that performed best in closed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openLedger()
			if err != nil {
				return err
			}
			defer a.Close()

			outcomes, err := a.ledger.Outcomes(cmd.Context(), strings.ToUpper(symbol), lookback(cmd, a, days))
			if err != nil {
				return err
			}
			result, err := optimizer.New(a.logger).FindOptimalParameters(outcomes)
			if err != nil {
				return err
			}

			current := optimizer.DefaultParams()
			out := optimizeOutput{
				Result:   result,
				Current:  current,
				Adjusted: optimizer.AutoAdjust(current, result, rate),
			}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), out)
			}

			if err := optimizer.Report(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Parameter", "Current", "Adjusted")
			table.Append([]string{"Target DTE", fmt.Sprintf("%d", out.Current.TargetDTE), fmt.Sprintf("%d", out.Adjusted.TargetDTE)})
			table.Append([]string{"Target Delta", fmt.Sprintf("%.2f", out.Current.TargetDelta), fmt.Sprintf("%.2f", out.Adjusted.TargetDelta)})
			table.Append([]string{"Min Delta", fmt.Sprintf("%.2f", out.Current.MinDelta), fmt.Sprintf("%.2f", out.Adjusted.MinDelta)})
			table.Append([]string{"Max Delta", fmt.Sprintf("%.2f", out.Current.MaxDelta), fmt.Sprintf("%.2f", out.Adjusted.MaxDelta)})
			table.Append([]string{"Min Annual Return", pct(out.Current.MinAnnualReturn), pct(out.Adjusted.MinAnnualReturn)})
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", defaultHistoryDays, "days of closed trades to analyze")
	cmd.Flags().StringVar(&symbol, "symbol", "", "restrict to one symbol")
	cmd.Flags().Float64Var(&rate, "rate", 0.2, "fraction of the way to move toward the optimum")
	return cmd
}

type historyOutput struct {
	Summary ledger.Summary      `json:"summary"`
	Levels  []ledger.LevelStats `json:"by_risk_level"`
}

func newHistoryCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Summarize trade performance from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openLedger()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			since := lookback(cmd, a, days)
			summary, err := a.ledger.PerformanceSummary(ctx, since)
			if err != nil {
				return err
			}
			levels, err := a.ledger.ByRiskLevel(ctx, since)
			if err != nil {
				return err
			}

			out := historyOutput{Summary: summary, Levels: levels}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			s := out.Summary
			table := newTable(w, "Trades", "Open", "Wins", "Losses", "Win Rate", "Premium", "P&L", "Avg P&L", "Max Drawdown")
			table.Append([]string{
				fmt.Sprintf("%d", s.TotalTrades),
				fmt.Sprintf("%d", s.OpenTrades),
				fmt.Sprintf("%d", s.WinningTrades),
				fmt.Sprintf("%d", s.LosingTrades),
				pct(s.WinRate),
				money(s.TotalPremium.InexactFloat64()),
				money(s.TotalPnL.InexactFloat64()),
				money(s.AvgPnL.InexactFloat64()),
				money(s.MaxDrawdown.InexactFloat64()),
			})
			table.Render()

			if len(levels) > 0 {
				byLevel := newTable(w, "Risk Level", "Trades", "Win Rate", "Premium", "P&L", "Annual Return")
				for _, l := range levels {
					byLevel.Append([]string{
						string(l.RiskLevel),
						fmt.Sprintf("%d", l.Trades),
						pct(l.WinRate),
						money(l.TotalPremium.InexactFloat64()),
						money(l.TotalPnL.InexactFloat64()),
						pct(l.AvgAnnualReturn),
					})
				}
				byLevel.Render()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", defaultHistoryDays, "days of trades to include")
	return cmd
}

func newBacktestCmd() *cobra.Command {
	var (
		symbol    string
		shares    int
		rate      float64
		strikePct float64
		days      int
	)

	cmd := &cobra.Command{
		Use:   "backtest FILE",
		Short: "Replay covered call strategies over daily price history",
		Long: `Simulates selling calls over the bars in FILE (CSV with date and close
columns). Compares the preset strategies unless --strike-pct or --days is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("rate") && cfg.Trading.RiskFreeRate > 0 {
				rate = cfg.Trading.RiskFreeRate
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			bars, err := backtest.LoadBars(f)
			if err != nil {
				return err
			}
			symbol = strings.ToUpper(symbol)
			bt, err := backtest.New(symbol, bars, shares, logger)
			if err != nil {
				return err
			}
			bt.WithRate(rate)

			var results []backtest.Result
			if cmd.Flags().Changed("strike-pct") || cmd.Flags().Changed("days") {
				r, err := bt.Run(backtest.Params{
					Name:      fmt.Sprintf("Custom (%.0f%% OTM, %d days)", strikePct*100, days),
					StrikePct: strikePct,
					Days:      days,
				})
				if err != nil {
					return err
				}
				results = []backtest.Result{r}
			} else if results, err = bt.Compare(); err != nil {
				return err
			}

			if jsonMode {
				return printJSON(cmd.OutOrStdout(), results)
			}
			return backtest.Report(cmd.OutOrStdout(), symbol, results)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "STOCK", "symbol shown in the report")
	cmd.Flags().IntVar(&shares, "shares", 100, "shares held")
	cmd.Flags().Float64Var(&rate, "rate", backtest.DefaultRate, "risk free rate for premium estimates")
	cmd.Flags().Float64Var(&strikePct, "strike-pct", 0.05, "strike distance above spot as a decimal")
	cmd.Flags().IntVar(&days, "days", 30, "days to expiration per trade")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/portfolio"
	"github.com/gregtusar/coveredcalls/pkg/trader"
)

func newRollCmd() *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "roll [ID CONTRACT]",
		Short: "Suggest rolls for open positions or execute one",
		Long: `Without arguments, evaluates every open position against the roll rules
and lists the best replacement calls. With --execute ID CONTRACT, closes the
position and sells the given contract in its place.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if execute {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return cobra.NoArgs(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Restore(ctx); err != nil {
				return err
			}

			if execute {
				rolled, err := a.engine.RollToContract(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printPositions(cmd, []models.CoveredCall{rolled})
			}

			suggestions, err := a.engine.RollSuggestions(ctx)
			if err != nil {
				return err
			}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), suggestions)
			}
			return printRollSuggestions(cmd, suggestions)
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "roll position ID into CONTRACT")
	return cmd
}

func printRollSuggestions(cmd *cobra.Command, suggestions []trader.RollSuggestion) error {
	w := cmd.OutOrStdout()
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "No open positions")
		return nil
	}

	for _, s := range suggestions {
		p := s.Position
		verdict := "hold"
		if s.Decision.Roll {
			verdict = "ROLL"
		}
		fmt.Fprintf(w, "\n%s %s (%s): %s, %s\n", p.ID, p.Option.ContractID, p.Stock.Symbol, verdict, s.Decision.Reason)
		if len(s.Candidates) == 0 {
			continue
		}

		table := newTable(w, "Contract", "Strike", "DTE", "Bid", "Net Credit", "Score")
		for _, c := range s.Candidates {
			table.Append([]string{
				c.Option.ContractID,
				fmt.Sprintf("%.2f", c.Option.Strike),
				fmt.Sprintf("%d", c.DTE),
				fmt.Sprintf("%.2f", c.Option.Bid),
				money(c.NetCredit),
				fmt.Sprintf("%.1f", c.Score),
			})
		}
		table.Render()
	}
	return nil
}

func newPortfolioCmd() *cobra.Command {
	var (
		format    string
		recommend bool
	)

	cmd := &cobra.Command{
		Use:   "portfolio FILE",
		Short: "Load a portfolio CSV export and show coverable holdings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			snapshot, err := portfolio.LoadCSV(f, portfolio.Format(strings.ToLower(format)))
			if err != nil {
				return err
			}

			var recs []trader.Recommendation
			if recommend {
				if recs, err = recommendFor(cmd, snapshot); err != nil {
					return err
				}
			}

			if jsonMode {
				return printJSON(cmd.OutOrStdout(), struct {
					portfolio.Snapshot
					Summary         models.AccountSummary   `json:"summary"`
					Recommendations []trader.Recommendation `json:"recommendations,omitempty"`
				}{snapshot, snapshot.AccountSummary(), recs})
			}
			printSnapshot(cmd, snapshot)
			return printRecommendations(cmd, recs)
		},
	}

	cmd.Flags().StringVar(&format, "format", string(portfolio.FormatAuto), "auto, ibkr or simple")
	cmd.Flags().BoolVar(&recommend, "recommend", false, "rank the best call for every coverable holding")
	return cmd
}

func recommendFor(cmd *cobra.Command, snapshot portfolio.Snapshot) ([]trader.Recommendation, error) {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	var recs []trader.Recommendation
	for _, st := range snapshot.Stocks {
		if st.AvailableContracts() == 0 {
			continue
		}
		rec, err := a.engine.Recommend(ctx, st.Symbol, a.cfg.RiskLevel(), 1)
		if err != nil {
			a.logger.WithError(err).WithField("symbol", st.Symbol).Warn("No recommendation")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func printSnapshot(cmd *cobra.Command, s portfolio.Snapshot) {
	w := cmd.OutOrStdout()

	table := newTable(w, "Symbol", "Shares", "Avg Cost", "Price", "Value", "Unrealized", "Contracts")
	for _, st := range s.Stocks {
		table.Append([]string{
			st.Symbol,
			fmt.Sprintf("%d", st.Shares),
			money(st.AverageCost),
			money(st.CurrentPrice),
			money(st.MarketValue()),
			pct(st.UnrealizedPnLPercent()),
			fmt.Sprintf("%d", st.AvailableContracts()),
		})
	}
	table.Render()

	if len(s.Options) > 0 {
		options := newTable(w, "Option", "Quantity", "Avg Cost", "Price", "Value")
		for _, o := range s.Options {
			options.Append([]string{
				o.Symbol,
				fmt.Sprintf("%.0f", o.Quantity),
				money(o.AverageCost),
				money(o.CurrentPrice),
				money(o.MarketValue),
			})
		}
		options.Render()
	}

	summary := s.AccountSummary()
	fmt.Fprintf(w, "Total value %s, unrealized %s\n", money(summary.NetLiquidation), money(summary.UnrealizedPnL))
}

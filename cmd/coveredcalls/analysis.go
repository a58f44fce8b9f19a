package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregtusar/coveredcalls/pkg/greeks"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/risk"
	"github.com/gregtusar/coveredcalls/pkg/sizing"
)

type greeksOutput struct {
	Price             float64 `json:"price"`
	ImpliedVolatility float64 `json:"implied_volatility,omitempty"`
	greeks.Greeks
}

func newGreeksCmd() *cobra.Command {
	var (
		spot, strike, rate, vol, price float64
		days                           int
		optionType                     string
	)

	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Price an option and compute its Greeks",
		Long: `Prices a European option with Black-Scholes. With --price the volatility
is solved from the market price instead of taken from --vol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("rate") {
				if cfg, _, err := loadConfig(); err == nil && cfg.Trading.RiskFreeRate > 0 {
					rate = cfg.Trading.RiskFreeRate
				}
			}

			in := greeks.Inputs{
				Spot:       spot,
				Strike:     strike,
				Years:      float64(days) / 365,
				Rate:       rate,
				Volatility: vol,
				Type:       models.OptionType(strings.ToUpper(optionType)),
			}
			if in.Type != models.OptionTypeCall && in.Type != models.OptionTypePut {
				return fmt.Errorf("unknown option type %q", optionType)
			}

			var out greeksOutput
			if price > 0 {
				iv, err := greeks.ImpliedVolatility(price, in)
				if err != nil {
					return err
				}
				in.Volatility = iv
				out.ImpliedVolatility = iv
			}

			g, err := greeks.Compute(in)
			if err != nil {
				return err
			}
			theo, err := greeks.Price(in)
			if err != nil {
				return err
			}
			out.Price, out.Greeks = theo, g

			if jsonMode {
				return printJSON(cmd.OutOrStdout(), out)
			}
			table := newTable(cmd.OutOrStdout(), "Price", "IV", "Delta", "Gamma", "Theta", "Vega", "Rho")
			table.Append([]string{
				fmt.Sprintf("%.4f", out.Price),
				pct(in.Volatility * 100),
				fmt.Sprintf("%.4f", g.Delta),
				fmt.Sprintf("%.4f", g.Gamma),
				fmt.Sprintf("%.4f", g.Theta),
				fmt.Sprintf("%.4f", g.Vega),
				fmt.Sprintf("%.4f", g.Rho),
			})
			table.Render()
			return nil
		},
	}

	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&strike, "strike", 0, "strike price")
	cmd.Flags().IntVar(&days, "days", 30, "calendar days to expiration")
	cmd.Flags().Float64Var(&rate, "rate", greeks.DefaultRiskFreeRate, "risk free rate as a decimal")
	cmd.Flags().Float64Var(&vol, "vol", 0.25, "volatility as a decimal")
	cmd.Flags().Float64Var(&price, "price", 0, "market price to solve implied volatility from")
	cmd.Flags().StringVar(&optionType, "type", "call", "call or put")
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strike")
	return cmd
}

func newKellyCmd() *cobra.Command {
	var portfolioValue, stockPrice float64

	cmd := &cobra.Command{
		Use:   "kelly SYMBOL",
		Short: "Size a new position from the symbol's trade history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			size, err := a.engine.Kelly(ctx, args[0], portfolioValue, stockPrice)
			if err != nil {
				return err
			}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), size)
			}
			return printKelly(cmd, size)
		},
	}

	cmd.Flags().Float64Var(&portfolioValue, "portfolio-value", 0, "portfolio value (default from the account)")
	cmd.Flags().Float64Var(&stockPrice, "price", 0, "stock price (default from the broker)")
	return cmd
}

func printKelly(cmd *cobra.Command, size sizing.Size) error {
	table := newTable(cmd.OutOrStdout(), "Symbol", "Kelly", "Size", "Contracts", "Max", "Win Rate", "Confidence")
	table.Append([]string{
		size.Symbol,
		pct(size.Kelly * 100),
		money(size.Dollars),
		fmt.Sprintf("%d", size.Contracts),
		fmt.Sprintf("%d", size.MaxContracts),
		pct(size.WinRate * 100),
		string(size.Confidence),
	})
	table.Render()
	fmt.Fprintln(cmd.OutOrStdout(), size.Advice)
	return nil
}

type riskOutput struct {
	Analysis risk.Analysis      `json:"analysis"`
	Safety   risk.SafetySummary `json:"safety"`
}

func newRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Analyze portfolio risk and show trading limits",
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
			analysis, err := a.engine.RiskAnalysis(ctx)
			if err != nil {
				return err
			}
			out := riskOutput{Analysis: analysis, Safety: a.engine.Safety()}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), out)
			}
			return printRisk(cmd, out)
		},
	}
}

func printRisk(cmd *cobra.Command, r riskOutput) error {
	w := cmd.OutOrStdout()
	a := r.Analysis

	fmt.Fprintf(w, "Overall risk: %s\n", a.OverallRisk)
	fmt.Fprintf(w, "Mode: %s, trades today %d, remaining %d\n\n", r.Safety.Mode, r.Safety.TodaysTrades, r.Safety.TradesRemaining)

	fmt.Fprintf(w, "Concentration: %s (largest %s %s)\n", a.Concentration.Status, a.Concentration.LargestPosition, pct(a.Concentration.LargestPct))
	fmt.Fprintf(w, "Cash reserve: %s (%s of %s required)\n", a.CashReserve.Status, pct(a.CashReserve.CashPct), pct(a.CashReserve.RequiredPct))
	fmt.Fprintf(w, "Covered exposure: %s (%s across %d positions)\n", a.CoveredExposure.Status, pct(a.CoveredExposure.ExposurePct), a.CoveredExposure.NumPositions)
	fmt.Fprintf(w, "Diversification: %s (%d symbols)\n\n", a.Diversification.Status, a.Diversification.NumSymbols)

	if len(a.AssignmentRisk) > 0 {
		table := newTable(w, "Symbol", "Delta", "DTE", "Risk Score")
		for _, ar := range a.AssignmentRisk {
			table.Append([]string{
				ar.Symbol,
				fmt.Sprintf("%.2f", ar.Delta),
				fmt.Sprintf("%d", ar.DTE),
				fmt.Sprintf("%.1f", ar.RiskScore),
			})
		}
		table.Render()
	}

	for _, alert := range a.Alerts {
		fmt.Fprintf(w, "[%s] %s: %s\n", alert.Level, alert.Title, alert.Message)
	}
	for _, rec := range a.Recommendations {
		fmt.Fprintf(w, "- %s\n", rec)
	}
	return nil
}

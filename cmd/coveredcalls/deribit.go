package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/coveredcalls/internal/config"
	"github.com/gregtusar/coveredcalls/pkg/deribit"
	"github.com/gregtusar/coveredcalls/pkg/strategy"
	"github.com/gregtusar/coveredcalls/pkg/trader"
)

func newDeribitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deribit",
		Short: "Crypto option chains and positions from Deribit",
	}
	cmd.AddCommand(newDeribitChainCmd(), newDeribitPositionsCmd())
	return cmd
}

func connectDeribit(ctx context.Context) (*deribit.Client, *config.Config, *logrus.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	client := deribit.NewClient(cfg.Deribit.Options, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, nil, err
	}
	return client, cfg, logger, nil
}

func currencies(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	if len(cfg.Deribit.Currencies) > 0 {
		return cfg.Deribit.Currencies
	}
	return []string{"BTC"}
}

func newDeribitChainCmd() *cobra.Command {
	var (
		minDTE, maxDTE, topN int
		riskLevel            string
	)

	cmd := &cobra.Command{
		Use:   "chain [CURRENCY...]",
		Short: "Rank Deribit calls as covered calls against held coins",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, cfg, logger, err := connectDeribit(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if riskLevel != "" {
				cfg.Trading.RiskLevel = riskLevel
			}
			s, err := strategy.New(cfg.RiskLevel(), strategy.WithPolicy(cfg.Scoring))
			if err != nil {
				return err
			}

			var recs []trader.Recommendation
			for _, currency := range currencies(cfg, args) {
				currency = strings.ToUpper(currency)
				index, err := client.IndexPrice(ctx, currency)
				if err != nil {
					return err
				}
				chain, err := client.OptionChain(ctx, currency, minDTE, maxDTE)
				if err != nil {
					return err
				}
				ranked, err := s.Rank(chain, index, topN)
				if err != nil {
					logger.WithError(err).WithField("currency", currency).Warn("Ranking failed")
					continue
				}
				recs = append(recs, trader.Recommendation{
					Symbol:     currency,
					StockPrice: index,
					RiskLevel:  cfg.RiskLevel(),
					Options:    ranked,
				})
			}

			if jsonMode {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			return printRecommendations(cmd, recs)
		},
	}

	cmd.Flags().IntVar(&minDTE, "min-dte", 7, "minimum days to expiration")
	cmd.Flags().IntVar(&maxDTE, "max-dte", 45, "maximum days to expiration")
	cmd.Flags().IntVar(&topN, "top", 5, "number of calls to show per currency")
	cmd.Flags().StringVar(&riskLevel, "risk-level", "", "conservative, moderate or aggressive (default from config)")
	return cmd
}

func newDeribitPositionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions [CURRENCY...]",
		Short: "List open Deribit positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, cfg, _, err := connectDeribit(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if _, err := client.Authenticate(ctx); err != nil {
				return err
			}

			var positions []deribit.Position
			for _, currency := range currencies(cfg, args) {
				p, err := client.Positions(ctx, strings.ToUpper(currency))
				if err != nil {
					return err
				}
				positions = append(positions, p...)
			}

			if jsonMode {
				return printJSON(cmd.OutOrStdout(), positions)
			}
			table := newTable(cmd.OutOrStdout(), "Instrument", "Direction", "Size", "Avg Price", "Mark", "Delta", "P&L")
			for _, p := range positions {
				table.Append([]string{
					p.Instrument,
					p.Direction,
					fmt.Sprintf("%.4f", p.Size),
					fmt.Sprintf("%.4f", p.AveragePrice),
					fmt.Sprintf("%.4f", p.MarkPrice),
					fmt.Sprintf("%.3f", p.Delta),
					fmt.Sprintf("%.4f", p.TotalPnL),
				})
			}
			table.Render()
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leverage-core/internal/api"
	"leverage-core/internal/strategy"
	"leverage-core/pkg/config"
	"leverage-core/pkg/logger"
)

func runCmd() *cobra.Command {
	var limitsPath, strategiesPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a trading session and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			l, err := logger.NewLogger(cfg.App.LogLevel)
			if err != nil {
				return err
			}
			defer l.Sync()
			log := l.Logger

			a, err := buildApp(cfg, limitsPath, strategiesPath, log)
			if err != nil {
				log.Error("startup failed", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("leverage-core starting",
				zap.String("version", version),
				zap.String("exchange", cfg.Exchange.Kind),
				zap.String("execution", cfg.Execution.Mode),
				zap.String("symbol", cfg.Trading.Symbol))
			if err := a.run(ctx); err != nil {
				log.Error("stopped with error", zap.Error(err))
				return err
			}
			log.Info("leverage-core stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&limitsPath, "limits", "", "YAML file overlaying the risk limits")
	cmd.Flags().StringVar(&strategiesPath, "strategies", "", "YAML file with strategy definitions; the first active one runs")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with API_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, expiresAt, err := api.GenerateToken(subject, cfg.API.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "operator name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func limitsCmd() *cobra.Command {
	var limitsPath string
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Print the effective risk limits as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			limits, err := config.LoadRiskLimits(limitsPath, cfg.Risk)
			if err != nil {
				return err
			}
			out, err := config.MarshalRiskLimits(limits)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&limitsPath, "limits", "", "YAML file overlaying the risk limits")
	return cmd
}

func strategiesCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List strategy kinds, or check a definitions file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if path == "" {
				for _, k := range strategy.Kinds() {
					fmt.Fprintln(out, k)
				}
				return nil
			}
			defs, err := strategy.LoadDefinitions(path)
			if err != nil {
				return err
			}
			for _, d := range defs {
				if _, err := strategy.Build(d); err != nil {
					return err
				}
				marker := " "
				if d.IsActive {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-16s %-10s %s\n", marker, d.ID, d.Kind, d.Settings.Symbol)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "strategy definitions YAML to validate")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "leverage-core version %s\n", version)
		},
	}
}

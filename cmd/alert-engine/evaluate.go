package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/config"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/spf13/cobra"
)

func newEvaluateCmd() *cobra.Command {
	var (
		ruleType   string
		conditions string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Dry-run one rule type against the live prop snapshot and print the triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel)

			rule := models.Rule{
				UserID:   userID,
				RuleType: models.RuleType(ruleType),
			}
			if conditions != "" {
				c, err := models.DecodeConditions(rule.RuleType, json.RawMessage(conditions))
				if err != nil {
					return fmt.Errorf("invalid --conditions: %w", err)
				}
				rule.Conditions = c
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.engine.TestRule(ctx, rule)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&ruleType, "rule-type", "", "rule type to evaluate (EV_THRESHOLD, LINE_MOVEMENT, EDGE_EMERGENCE, STEAM_DETECTION, ARBITRAGE_OPPORTUNITY)")
	cmd.Flags().StringVar(&conditions, "conditions", "", "rule conditions as JSON; omitted conditions use the dry-run defaults")
	cmd.Flags().StringVar(&userID, "user", "", "user id to attribute the triggers to")
	_ = cmd.MarkFlagRequired("rule-type")
	return cmd
}

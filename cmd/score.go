package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
)

var (
	scoreAudience    string
	scoreScale       float64
	rescoreAudiences []string
	rescoreAll       bool
)

// scaleAccuracy returns the --scale flag when set, else the configured
// default.
func scaleAccuracy(cmd *cobra.Command) float64 {
	if cmd.Flags().Changed("scale") {
		return scoreScale
	}
	return cfg.Scoring.DefaultScaleAccuracy
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Generate and score an audience's geo units",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scale := scaleAccuracy(cmd)
		if scale < 0 || scale > 100 {
			return eris.Errorf("scale %.1f outside [0,100]", scale)
		}

		env, err := initEnv(ctx, "", false)
		if err != nil {
			return err
		}
		defer env.Close()

		units, err := env.Builder.ScoreUnits(ctx, scoreAudience, scale)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), map[string]any{
			"audience_id":    scoreAudience,
			"scale_accuracy": scale,
			"units":          len(units),
			"tiers":          model.TierCounts(units),
		})
	},
}

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Rescore geo units for several audiences",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if rescoreAll == (len(rescoreAudiences) > 0) {
			return eris.New("pass exactly one of --audiences or --all")
		}
		scale := scaleAccuracy(cmd)
		if scale < 0 || scale > 100 {
			return eris.Errorf("scale %.1f outside [0,100]", scale)
		}

		env, err := initEnv(ctx, "", false)
		if err != nil {
			return err
		}
		defer env.Close()

		ids := rescoreAudiences
		if rescoreAll {
			ids, err = env.Store.ListAudiences(ctx)
			if err != nil {
				return err
			}
		}

		results, err := env.Builder.RescoreAll(ctx, ids, scale, cfg.Scoring.RescoreConcurrency)
		if err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
		}
		zap.L().Info("rescore complete",
			zap.Int("audiences", len(results)),
			zap.Int("failed", failed),
		)
		return printJSON(cmd.OutOrStdout(), results)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreAudience, "audience", "", "audience ID")
	scoreCmd.Flags().Float64Var(&scoreScale, "scale", 100, "scale accuracy dial, 0-100 (default from config)")
	_ = scoreCmd.MarkFlagRequired("audience")

	rescoreCmd.Flags().StringSliceVar(&rescoreAudiences, "audiences", nil, "audience IDs to rescore")
	rescoreCmd.Flags().BoolVar(&rescoreAll, "all", false, "rescore every configured audience")
	rescoreCmd.Flags().Float64Var(&scoreScale, "scale", 100, "scale accuracy dial, 0-100 (default from config)")

	rootCmd.AddCommand(scoreCmd, rescoreCmd)
}

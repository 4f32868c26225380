package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/audience-cli/internal/audience"
)

var (
	buildAudience          string
	buildSegment           string
	buildSegments          []string
	buildProviders         []string
	buildIncludeAnchorOnly bool
	buildThreshold         float64
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an audience in its configured construction mode",
	Long:  "Runs validation or extension for the audience, depending on its stored settings, and replaces the stored build for that mode.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "build", true)
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := env.Builder.Build(ctx, audience.Request{
			AudienceID:          buildAudience,
			SegmentKey:          buildSegment,
			SegmentKeys:         buildSegments,
			Providers:           buildProviders,
			IncludeAnchorOnly:   buildIncludeAnchorOnly,
			ConfidenceThreshold: buildThreshold,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), b)
	},
}

func init() {
	f := buildCmd.Flags()
	f.StringVar(&buildAudience, "audience", "", "audience ID")
	f.StringVar(&buildSegment, "segment", "", "validated segment, or the anchor segment in extension mode")
	f.StringSliceVar(&buildSegments, "segments", nil, "adjacent segments for extension mode")
	f.StringSliceVar(&buildProviders, "providers", nil, "restrict validating providers (default all)")
	f.BoolVar(&buildIncludeAnchorOnly, "include-anchor-only", false, "keep anchor districts without extension support")
	f.Float64Var(&buildThreshold, "threshold", 0, "confidence threshold override (default from config)")
	_ = buildCmd.MarkFlagRequired("audience")
	rootCmd.AddCommand(buildCmd)
}

package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
)

var (
	settingsAudience string
	settingsFile     string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage audience construction settings",
}

var settingsPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Store construction settings from a YAML or JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := model.LoadSettingsFile(settingsFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "", false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.SaveSettings(ctx, s); err != nil {
			return eris.Wrapf(err, "save settings for %s", s.AudienceID)
		}

		zap.L().Info("settings saved",
			zap.String("audience", s.AudienceID),
			zap.String("mode", string(s.Mode)),
			zap.Int("active_signals", len(s.ActiveSignals)),
		)
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print an audience's construction settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "", false)
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Store.GetSettings(ctx, settingsAudience)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s)
	},
}

func init() {
	settingsPutCmd.Flags().StringVar(&settingsFile, "file", "", "settings file (.json, .yaml)")
	_ = settingsPutCmd.MarkFlagRequired("file")

	settingsGetCmd.Flags().StringVar(&settingsAudience, "audience", "", "audience ID")
	_ = settingsGetCmd.MarkFlagRequired("audience")

	settingsCmd.AddCommand(settingsPutCmd, settingsGetCmd)
	rootCmd.AddCommand(settingsCmd)
}

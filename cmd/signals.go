package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/ingest"
)

var (
	signalsFile      string
	signalsFormat    string
	signalsSheet     string
	signalsSegment   string
	signalsProvider  string
	signalsDelimiter string
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Manage provider district signals",
}

var signalsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import district signals from CSV or XLSX",
	Long:  "Loads district signals from a local file or ftp:// URL. Rows missing a segment or provider column take the --segment/--provider defaults.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := ingest.ImportOptions{
			Format:    ingest.Format(signalsFormat),
			Sheet:     signalsSheet,
			Segment:   signalsSegment,
			Provider:  signalsProvider,
			BatchSize: cfg.Ingest.BatchSize,
		}
		if signalsDelimiter != "" {
			opts.Delimiter = []rune(signalsDelimiter)[0]
		}

		result, err := newImporter(env).ImportSignals(ctx, signalsFile, opts)
		if err != nil {
			return err
		}

		zap.L().Info("signal import complete",
			zap.String("file", signalsFile),
			zap.Int("rows", result.Rows),
			zap.Int64("imported", result.Imported),
			zap.Int("skipped", result.Skipped),
		)
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	f := signalsImportCmd.Flags()
	f.StringVar(&signalsFile, "file", "", "signal file path or ftp:// URL")
	f.StringVar(&signalsFormat, "format", "", "csv or xlsx (default from extension)")
	f.StringVar(&signalsSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	f.StringVar(&signalsSegment, "segment", "", "segment key for rows without one")
	f.StringVar(&signalsProvider, "provider", "", "provider key for rows without one")
	f.StringVar(&signalsDelimiter, "delimiter", "", "CSV delimiter (default comma)")
	_ = signalsImportCmd.MarkFlagRequired("file")

	signalsCmd.AddCommand(signalsImportCmd)
	rootCmd.AddCommand(signalsCmd)
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/audience-cli/internal/ingest"
)

var (
	geoFile            string
	geoDistrictField   string
	geoHouseholdsField string
)

var geographyCmd = &cobra.Command{
	Use:   "geography",
	Short: "Manage reference district geography",
}

var geographyLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load district polygons and household counts from a shapefile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := ingest.LoadGeographyShapefile(ctx, geoFile, env.Signals, ingest.GeographyOptions{
			DistrictField:   geoDistrictField,
			HouseholdsField: geoHouseholdsField,
			BatchSize:       cfg.Ingest.BatchSize,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	f := geographyLoadCmd.Flags()
	f.StringVar(&geoFile, "file", "", "path to the .shp file")
	f.StringVar(&geoDistrictField, "district-field", "district", "attribute holding the district key")
	f.StringVar(&geoHouseholdsField, "households-field", "households", "attribute holding the household count")
	_ = geographyLoadCmd.MarkFlagRequired("file")

	geographyCmd.AddCommand(geographyLoadCmd)
	rootCmd.AddCommand(geographyCmd)
}

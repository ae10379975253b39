package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chartiler/chart"
	"chartiler/mbtiles"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "chartiler",
	Short: "Convert georeferenced aeronautical charts into MBTiles tile pyramids",
	Long: `chartiler turns georeferenced chart rasters (GeoTIFF, paletted or RGB) into
Web Mercator tile pyramids stored as MBTiles.

Examples:
  # Convert one sectional chart
  chartiler convert --raster "Seattle SEC.tif" --name Seattle --category sectional

  # Convert every chart listed in a manifest
  chartiler batch --manifest charts.toml --out tiles

  # Check a finished store and fix its zoom range
  chartiler verify tiles/S_Seattle.mbtiles`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a single chart raster",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := chart.Record{
			Name:       viper.GetString("convert.name"),
			Category:   chart.Category(viper.GetString("convert.category")),
			RasterPath: viper.GetString("convert.raster"),
		}
		if rec.RasterPath == "" {
			return fmt.Errorf("--raster is required")
		}
		if rec.Name == "" {
			rec.Name = chart.Stem(rec.RasterPath)
		}
		return runTask([]chart.Record{rec})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Convert every chart of a manifest, or of the config file when no manifest is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		records := conf.ChartRecords()
		if manifest := viper.GetString("batch.manifest"); manifest != "" {
			var err error
			if records, err = chart.LoadManifest(manifest); err != nil {
				return err
			}
		}
		return runTask(records)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file.mbtiles>",
	Short: "Verify a tile store and reconcile its zoom range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := mbtiles.Verify(args[0])
		if err != nil {
			return err
		}
		for _, z := range v.Zooms() {
			log.WithField("zoom", z).Infof("%d tiles", v.ZoomCounts[z])
		}
		log.Infof("%s ok: %d tiles in zoom %d..%d, reconciled: %v", v.Path, v.Tiles, v.MinZoom, v.MaxZoom, v.Reconciled)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.mbtiles> <dir>",
	Short: "Dump the tiles of a store as z/x/y files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportTiles(args[0], args[1])
	},
}

// Execute 执行命令并在退出前完成清理
func Execute() {
	err := rootCmd.Execute()
	if SafeExitInst != nil {
		SafeExitInst.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./conf/conf.toml", "set config `file`")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "set log level")
	rootCmd.PersistentFlags().StringP("out", "o", "", "output directory (default output.directory)")
	rootCmd.PersistentFlags().Int("min-zoom", 0, "minimum zoom (default tiles.minZoom)")
	rootCmd.PersistentFlags().Int("max-zoom", 0, "maximum zoom (default tiles.maxZoom)")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "render workers (default task.workers)")

	convertCmd.Flags().String("raster", "", "source GeoTIFF (required)")
	convertCmd.Flags().String("name", "", "chart name (default: raster file name)")
	convertCmd.Flags().String("category", string(chart.Sectional), "chart category (sectional|terminal)")
	batchCmd.Flags().String("manifest", "", "TOML manifest with [[chart]] tables")

	viper.BindPFlag("output.directory", rootCmd.PersistentFlags().Lookup("out"))
	viper.BindPFlag("tiles.minZoom", rootCmd.PersistentFlags().Lookup("min-zoom"))
	viper.BindPFlag("tiles.maxZoom", rootCmd.PersistentFlags().Lookup("max-zoom"))
	viper.BindPFlag("task.workers", rootCmd.PersistentFlags().Lookup("workers"))
	viper.BindPFlag("convert.raster", convertCmd.Flags().Lookup("raster"))
	viper.BindPFlag("convert.name", convertCmd.Flags().Lookup("name"))
	viper.BindPFlag("convert.category", convertCmd.Flags().Lookup("category"))
	viper.BindPFlag("batch.manifest", batchCmd.Flags().Lookup("manifest"))

	rootCmd.AddCommand(convertCmd, batchCmd, verifyCmd, exportCmd)
}

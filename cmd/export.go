package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored businesses to xlsx or a point shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		upload, _ := cmd.Flags().GetBool("upload")

		if format != "xlsx" && format != "shp" {
			return eris.Errorf("unknown format %q (xlsx or shp)", format)
		}
		if upload && cfg.Export.FTPURL == "" {
			return eris.New("--upload requires export.ftp_url")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		businesses, err := export.Collect(ctx, st, businessFilterFromFlags(cmd))
		if err != nil {
			return err
		}

		if out == "" {
			out = filepath.Join(cfg.Export.Dir, fmt.Sprintf("businesses_%s.%s", time.Now().Format("20060102_150405"), format))
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return eris.Wrap(err, "create export dir")
		}

		switch format {
		case "xlsx":
			if err := export.WriteXLSX(out, businesses); err != nil {
				return err
			}
			logger.Info("exported businesses", zap.String("path", out), zap.Int("rows", len(businesses)))
		case "shp":
			n, err := export.WriteShapefile(out, businesses)
			if err != nil {
				return err
			}
			logger.Info("exported businesses", zap.String("path", out), zap.Int("points", n),
				zap.Int("skipped_without_location", len(businesses)-n))
		}
		fmt.Fprintln(os.Stdout, out)

		if !upload {
			return nil
		}
		uploader := export.NewUploader(time.Duration(cfg.Export.FTPTimeout)*time.Second, logger)
		for _, p := range exportFiles(out, format) {
			if _, err := uploader.Upload(ctx, cfg.Export.FTPURL, p); err != nil {
				return err
			}
		}
		return nil
	},
}

// exportFiles lists the files that make up an export. A shapefile is
// written as three siblings.
func exportFiles(path, format string) []string {
	if format != "shp" {
		return []string{path}
	}
	base := path[:len(path)-len(filepath.Ext(path))]
	return []string{base + ".shp", base + ".shx", base + ".dbf"}
}

func init() {
	addBusinessFilterFlags(exportCmd)
	exportCmd.Flags().String("format", "xlsx", "xlsx or shp")
	exportCmd.Flags().String("out", "", "output path (default export.dir/businesses_<timestamp>.<format>)")
	exportCmd.Flags().Bool("upload", false, "upload the export to export.ftp_url")
	rootCmd.AddCommand(exportCmd)
}

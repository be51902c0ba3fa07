package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <cleaned-json>",
	Short: "Merge a cleaned entities file into the store",
	Long:  "Reads a JSON array of businesses, such as output/cleaned/website_cleaned_data.json, and saves it with the usual identity merge.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sourceType, _ := cmd.Flags().GetString("source-type")

		entities, err := readEntities(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := st.SaveEntities(ctx, entities, sourceType)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		logger.Info("ingest complete",
			zap.String("file", args[0]),
			zap.Int("read", len(entities)),
			zap.Int("saved", res.Saved),
			zap.Int("updated", res.Updated),
		)
		fmt.Fprintf(os.Stdout, "saved %d, updated %d\n", res.Saved, res.Updated)
		return nil
	},
}

// readEntities decodes a JSON array of businesses and drops entries that
// have no identity.
func readEntities(path string) ([]model.Business, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var raw []model.Business
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	out := raw[:0]
	for _, b := range raw {
		if b.Identity() == model.IdentityNone {
			continue
		}
		b.ID = ""
		out = append(out, b)
	}
	return out, nil
}

func init() {
	ingestCmd.Flags().String("source-type", "import", "source_type recorded on new records")
	rootCmd.AddCommand(ingestCmd)
}

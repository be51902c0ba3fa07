package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/listing-scraper/internal/jobs"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/search"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a job in the foreground",
	Long:  "Creates a job, runs it to completion in this process and prints the final job record.",
}

var runWebsiteCmd = &cobra.Command{
	Use:   "website <url>...",
	Short: "Scrape business websites and store the entities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), model.JobTypeWebsite, model.JobParameters{URLs: args})
	},
}

var runSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Discover business URLs from search result pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		terms, _ := cmd.Flags().GetStringSlice("terms")
		urls, _ := cmd.Flags().GetStringSlice("urls")
		preset, _ := cmd.Flags().GetString("preset")

		if preset != "" {
			if len(terms) > 0 || len(urls) > 0 {
				return eris.New("--preset cannot be combined with --terms or --urls")
			}
			var err error
			urls, err = presetURLs(preset)
			if err != nil {
				return err
			}
		}
		return runJob(cmd.Context(), model.JobTypeSearch, model.JobParameters{Terms: terms, URLs: urls})
	},
}

var runPipelineCmd = &cobra.Command{
	Use:   "pipeline <term>...",
	Short: "Search for terms, then scrape and store every discovered URL",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), model.JobTypePipeline, model.JobParameters{Terms: args})
	},
}

func runJob(ctx context.Context, jobType model.JobType, params model.JobParameters) error {
	if err := jobs.Validate(jobType, params); err != nil {
		return err
	}

	env, err := initApp(ctx, "run")
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := env.Store.CreateJob(ctx, jobType, params)
	if err != nil {
		return eris.Wrap(err, "create job")
	}
	if err := env.Runner.Run(ctx, job.ID); err != nil {
		return err
	}

	done, err := env.Store.GetJob(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "load job")
	}
	if err := printJSON(os.Stdout, done); err != nil {
		return err
	}
	if done.Status == model.JobStatusFailed {
		return eris.Errorf("job %s failed: %s", done.ID, done.Error)
	}
	return nil
}

// presetURLs builds the search URLs of a named preset from the configured
// presets file.
func presetURLs(name string) ([]string, error) {
	if cfg.Search.PresetsFile == "" {
		return nil, eris.New("search.presets_file is not configured")
	}
	presets, err := search.LoadPresets(cfg.Search.PresetsFile)
	if err != nil {
		return nil, err
	}
	p, ok := presets[name]
	if !ok {
		return nil, eris.Errorf("unknown preset %q (available: %v)", name, presets.Names())
	}
	return p.URLs(searchDefaults())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runSearchCmd.Flags().StringSlice("terms", nil, "search terms to build search URLs from")
	runSearchCmd.Flags().StringSlice("urls", nil, "pre-built search URLs")
	runSearchCmd.Flags().String("preset", "", "named preset from search.presets_file")

	runCmd.AddCommand(runWebsiteCmd, runSearchCmd, runPipelineCmd)
	rootCmd.AddCommand(runCmd)
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/listing-scraper/internal/search"
)

var searchURLCmd = &cobra.Command{
	Use:   "search-url <term>",
	Short: "Print search URLs for a term without fetching them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := searchOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		opts = opts.Merge(searchDefaults())

		if generate, _ := cmd.Flags().GetBool("generate"); generate {
			queries, err := search.GenerateQueries(args[0], opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tNAME\tURL")
			for _, q := range queries {
				name := q.Name
				if name == "" {
					name = q.Location
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", q.Type, name, q.URL)
			}
			return tw.Flush()
		}

		u, err := search.Build(args[0], opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, u)
		return nil
	},
}

func searchOptionsFromFlags(cmd *cobra.Command) (search.Options, error) {
	category, _ := cmd.Flags().GetString("category")
	location, _ := cmd.Flags().GetString("location")
	site, _ := cmd.Flags().GetString("site")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	num, _ := cmd.Flags().GetInt("num")
	start, _ := cmd.Flags().GetInt("start")
	when, _ := cmd.Flags().GetString("time")

	opts := search.Options{
		Category:     search.Category(category),
		Location:     location,
		Site:         site,
		ExcludeWords: exclude,
		Num:          num,
		Start:        start,
		TimeFilter:   search.TimeFilter(when),
	}
	if !opts.Category.Valid() {
		return opts, eris.Errorf("unknown category %q", category)
	}
	return opts, nil
}

func init() {
	searchURLCmd.Flags().String("category", "", "keyword category (businesses, restaurants, attractions, services, hotels)")
	searchURLCmd.Flags().String("location", "", "location appended to the query")
	searchURLCmd.Flags().String("site", "", "restrict results to a site")
	searchURLCmd.Flags().StringSlice("exclude", nil, "words to exclude")
	searchURLCmd.Flags().Int("num", 0, "results per page (10-100)")
	searchURLCmd.Flags().Int("start", 0, "result offset")
	searchURLCmd.Flags().String("time", "", "time filter: d, w, m or y")
	searchURLCmd.Flags().Bool("generate", false, "print the specialized and directory query set instead of one URL")

	rootCmd.AddCommand(searchURLCmd)
}

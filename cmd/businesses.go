package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

var businessesCmd = &cobra.Command{
	Use:   "businesses",
	Short: "Query stored businesses",
}

var businessesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored businesses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f := businessFilterFromFlags(cmd)
		list, err := st.ListBusinesses(ctx, f)
		if err != nil {
			return eris.Wrap(err, "businesses list")
		}
		total, err := st.CountBusinesses(ctx, f)
		if err != nil {
			return eris.Wrap(err, "businesses count")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, list)
		}
		formatBusinessList(os.Stdout, list)
		fmt.Fprintf(os.Stderr, "%d of %d businesses\n", len(list), total)
		return nil
	},
}

func businessFilterFromFlags(cmd *cobra.Command) store.BusinessFilter {
	search, _ := cmd.Flags().GetString("search")
	category, _ := cmd.Flags().GetString("category")
	sort, _ := cmd.Flags().GetString("sort")
	order, _ := cmd.Flags().GetString("order")
	skip, _ := cmd.Flags().GetInt("skip")
	limit, _ := cmd.Flags().GetInt("limit")
	return store.BusinessFilter{
		Search:   search,
		Category: category,
		Sort:     sort,
		Order:    order,
		Skip:     skip,
		Limit:    limit,
	}
}

func formatBusinessList(w io.Writer, list []model.Business) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tADDRESS\tPHONE\tWEBSITE")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			truncate(b.Name, 40), b.Category, truncate(b.Address, 48), b.Phone, b.Website)
	}
	_ = tw.Flush()
}

func addBusinessFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("search", "", "case-insensitive match on name, address or description")
	cmd.Flags().String("category", "", "exact category (Business, Attraction, Restaurant, Service, Hotel)")
	cmd.Flags().String("sort", "created_at", "sort by name, created_at or updated_at")
	cmd.Flags().String("order", "desc", "asc or desc")
}

func init() {
	addBusinessFilterFlags(businessesListCmd)
	businessesListCmd.Flags().Int("skip", 0, "records to skip")
	businessesListCmd.Flags().Int("limit", 100, "max records (1-1000)")
	businessesListCmd.Flags().Bool("json", false, "print JSON instead of a table")

	businessesCmd.AddCommand(businessesListCmd)
	rootCmd.AddCommand(businessesCmd)
}

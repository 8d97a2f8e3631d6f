package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var collectionsJSON bool

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List or delete collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections with their record counts",
	Args:  cobra.NoArgs,
	RunE:  runCollectionsList,
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and all of its records",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsDelete,
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsListCmd, collectionsDeleteCmd)
	collectionsListCmd.Flags().BoolVar(&collectionsJSON, "json", false, "output as JSON")
}

func runCollectionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig(), GetLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.collections.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if collectionsJSON {
		output, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No collections.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRECORDS\tMODEL\tMETRIC\tSOURCE\tCREATED")
	for _, c := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			c.Name, c.Count, c.Model, c.Metric, c.Source, c.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runCollectionsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig(), GetLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.collections.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Collection '%s' deleted successfully\n", args[0])
	return nil
}

package cmd

import (
	"fmt"
	"text/tabwriter"

	"pipeplane/pkg/api"

	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage pipelines",
}

var pipelineCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pipeline",
	Long: `Create a named pipeline. Versions are registered separately with "pipectl version create".

Example:
  pipectl pipeline create --name ingest --description "Nightly ingest"`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")

		client := newClient(cmd)
		if client == nil {
			return
		}

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		req := api.CreatePipelineRequest{Name: name}
		if description != "" {
			req.Description = &description
		}

		result, err := client.CreatePipeline(req)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Pipeline created!\nID: %s\nName: %s\n", result.ID, result.Name)
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client := newClient(cmd)
		if client == nil {
			return
		}

		result, err := client.ListPipelines(limit, offset)
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(result.Items) == 0 {
			cmd.Println("No pipelines found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCREATED")
		for _, p := range result.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		printPage(cmd, len(result.Items), result.Offset, result.Total)
	},
}

func printPage(cmd *cobra.Command, n, offset int, total int64) {
	if n == 0 {
		return
	}
	cmd.Printf("%sShowing %d-%d of %d%s\n", colorDim, offset+1, offset+n, total, colorReset)
}

func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 20, "Maximum number of items to return")
	cmd.Flags().Int("offset", 0, "Number of items to skip")
}

func init() {
	pipelineCreateCmd.Flags().StringP("name", "n", "", "Name of the pipeline (required)")
	pipelineCreateCmd.Flags().StringP("description", "d", "", "Description (optional)")
	addPageFlags(pipelineListCmd)

	pipelineCmd.AddCommand(pipelineCreateCmd, pipelineListCmd)
	rootCmd.AddCommand(pipelineCmd)
}

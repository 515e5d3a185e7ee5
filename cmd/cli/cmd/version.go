package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"pipeplane/pkg/api"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage pipeline versions",
}

var versionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a DRAFT pipeline version from a DAG file",
	Long: `Register a new pipeline version. The DAG file may be YAML or JSON and is
stored as the version's dag_spec. New versions start as DRAFT and must be
approved before runs can be created.

Example:
  pipectl version create --pipeline <pipeline-id> --version 1.2.0 --file dag.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		pipelineID, _ := flags.GetString("pipeline")
		version, _ := flags.GetString("version")
		file, _ := flags.GetString("file")

		client := newClient(cmd)
		if client == nil {
			return
		}

		if pipelineID == "" {
			cmd.Println("Error: --pipeline is required")
			return
		}
		if version == "" {
			cmd.Println("Error: --version is required")
			return
		}
		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}

		spec, err := loadDAGSpec(file)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		result, err := client.CreateVersion(api.CreatePipelineVersionRequest{
			PipelineID: pipelineID,
			Version:    version,
			DAGSpec:    spec,
		})
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Version created!\nID: %s\nVersion: %s\nStatus: %s\n", result.ID, result.Version, result.Status)
	},
}

var versionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline versions",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		pipelineID, _ := flags.GetString("pipeline")
		status, _ := flags.GetString("status")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		client := newClient(cmd)
		if client == nil {
			return
		}

		result, err := client.ListVersions(pipelineID, status, limit, offset)
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(result.Items) == 0 {
			cmd.Println("No versions found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPIPELINE\tVERSION\tSTATUS\tCREATED")
		for _, v := range result.Items {
			pipeline := v.PipelineName
			if pipeline == "" {
				pipeline = v.PipelineID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, pipeline, v.Version, v.Status, v.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		printPage(cmd, len(result.Items), result.Offset, result.Total)
	},
}

var versionGetCmd = &cobra.Command{
	Use:   "get [version_id]",
	Short: "Show a pipeline version and its DAG spec",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		v, err := client.GetVersion(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, v.ID)
		cmd.Printf("%sPipeline:%s    %s\n", colorDim, colorReset, v.PipelineID)
		cmd.Printf("%sVersion:%s     %s\n", colorDim, colorReset, v.Version)
		cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, v.Status)
		cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&v.CreatedAt))

		var pretty any
		if err := json.Unmarshal(v.DAGSpec, &pretty); err == nil {
			out, _ := yaml.Marshal(pretty)
			cmd.Printf("%sDAG:%s\n%s", colorDim, colorReset, out)
		}
	},
}

func newVersionStatusCmd(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [version_id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := newClient(cmd)
			if client == nil {
				return
			}

			v, err := client.SetVersionStatus(args[0], status)
			if err != nil {
				printError(cmd, err)
				return
			}

			cmd.Printf("✓ Version %s is now %s\n", v.ID, v.Status)
		},
	}
}

// loadDAGSpec reads a YAML or JSON DAG file and returns it as JSON.
func loadDAGSpec(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DAG file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse DAG file: %w", err)
	}
	if doc == nil {
		return nil, errors.New("DAG file is empty")
	}

	return json.Marshal(jsonCompatible(doc))
}

// jsonCompatible converts YAML maps with non-string keys into JSON objects.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	default:
		return v
	}
}

func init() {
	flags := versionCreateCmd.Flags()
	flags.StringP("pipeline", "p", "", "Pipeline ID (required)")
	flags.StringP("version", "v", "", "Version label, e.g. 1.2.0 (required)")
	flags.StringP("file", "f", "", "Path to the DAG spec, YAML or JSON (required)")

	versionListCmd.Flags().StringP("pipeline", "p", "", "Only versions of this pipeline")
	versionListCmd.Flags().String("status", "", "Only versions in this status (DRAFT, APPROVED, DEPRECATED)")
	addPageFlags(versionListCmd)

	versionCmd.AddCommand(
		versionCreateCmd,
		versionListCmd,
		versionGetCmd,
		newVersionStatusCmd("approve", "Approve a version so runs can be created from it", "APPROVED"),
		newVersionStatusCmd("deprecate", "Deprecate a version; existing runs are unaffected", "DEPRECATED"),
	)
	rootCmd.AddCommand(versionCmd)
}

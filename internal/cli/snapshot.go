package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/synapse/internal/client"
)

var (
	snapshotOut string
	snapshotIn  string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import a graph snapshot against a running server",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the full graph snapshot",
	RunE:  runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace the server's graph with a snapshot file",
	RunE:  runSnapshotImport,
}

func init() {
	snapshotExportCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "Output file (default stdout)")
	snapshotImportCmd.Flags().StringVarP(&snapshotIn, "in", "i", "", "Snapshot file to import")
	snapshotImportCmd.MarkFlagRequired("in")

	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	c := client.New()
	if !c.Healthy() {
		return fmt.Errorf("synapse server is not reachable (set SYNAPSE_URL?)")
	}

	data, err := c.Get("/api/snapshot")
	if err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}

	if snapshotOut == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(snapshotOut, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	fmt.Fprintf(os.Stderr, "snapshot written to %s\n", snapshotOut)
	return nil
}

func runSnapshotImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(snapshotIn)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	c := client.New()
	if !c.Healthy() {
		return fmt.Errorf("synapse server is not reachable (set SYNAPSE_URL?)")
	}

	if _, err := c.Put("/api/snapshot", data); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	fmt.Fprintln(os.Stderr, "snapshot imported")
	return nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nekokan/musicwa/internal/archive"
	"github.com/nekokan/musicwa/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "maint",
	Short:   "Export all documents as JSONL",
	Long: `Write every document as one JSON line {"id": ..., "content": ...} to
stdout or --output. Documents that do not parse are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		var w io.Writer = os.Stdout
		if output != "" && output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}

		res, err := archive.Export(cmd.Context(), a.svc, w)
		if err != nil {
			return err
		}
		reportResult(res, "Exported")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "maint",
	Short:   "Import documents from JSONL",
	Long: `Create documents from a JSONL file written by 'musicwa export'.

Documents that already exist with the same content are left alone. Ones
with different content are skipped unless --overwrite is given.

Examples:
  musicwa import backup.jsonl --dry-run
  musicwa export --root old | musicwa import - --root new`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			r = f
		}

		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := archive.Import(cmd.Context(), a.svc, r, archive.ImportOptions{DryRun: dryRun, Overwrite: overwrite})
		if err != nil {
			return err
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		reportResult(res, verb)
		if len(res.Errors) > res.Skipped {
			return fmt.Errorf("%d documents failed to import", len(res.Errors)-res.Skipped)
		}
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:     "publish DIR",
	GroupID: "maint",
	Short:   "Copy every document to another directory",
	Long: `Replace the *.json files in DIR with a clean, pretty-printed copy of
every document that parses. Other files in DIR are left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := archive.Publish(cmd.Context(), a.svc, args[0])
		if err != nil {
			return err
		}
		reportResult(res, "Published")
		return nil
	},
}

// reportResult prints to stderr so stdout stays clean for export.
func reportResult(res *archive.Result, verb string) {
	for _, msg := range res.Errors {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), msg)
	}
	fmt.Fprintf(os.Stderr, "%s %s %d documents", ui.RenderPass("✓"), verb, res.Written)
	if res.Unchanged > 0 {
		fmt.Fprintf(os.Stderr, ", %d unchanged", res.Unchanged)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(os.Stderr, ", %d skipped", res.Skipped)
	}
	fmt.Fprintln(os.Stderr)
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	importCmd.Flags().BoolP("dry-run", "n", false, "Preview without writing")
	importCmd.Flags().Bool("overwrite", false, "Replace documents that exist with different content")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(publishCmd)
}

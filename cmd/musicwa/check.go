package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nekokan/musicwa/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "maint",
	Short:   "Check that every document parses",
	Long: `Read every document in the directory and report the ones that are not
valid JSON. Exits with status 1 if any document fails.

With --lint, music record fields are checked as well (required fields,
years, track lengths, dates, reference URLs). Lint findings are advisory and
do not affect the exit status.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lint, _ := cmd.Flags().GetBool("lint")

		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.svc.Check(cmd.Context(), lint)
		if err != nil {
			return err
		}

		failed, warned := 0, 0
		for _, r := range results {
			switch {
			case r.Err != nil:
				failed++
				fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), r.ID, r.Err)
			case len(r.Problems) > 0:
				warned++
				fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), r.ID)
				for _, p := range r.Problems {
					fmt.Printf("    %s\n", p)
				}
			}
		}

		fmt.Printf("\n%d documents, %d failed", len(results), failed)
		if lint {
			fmt.Printf(", %d with warnings", warned)
		}
		fmt.Println()
		if failed > 0 {
			return fmt.Errorf("%d documents failed to parse", failed)
		}
		fmt.Printf("%s All documents parse\n", ui.RenderPass("✓"))
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:     "query EXPR",
	GroupID: "docs",
	Short:   "List documents matching an expression",
	Long: `Evaluate a boolean expression against every document and list the
ones for which it is true. The document is available as doc, its id as file
and its display label as label. Missing fields are nil.

Examples:
  musicwa query 'doc.janre.main == "Jazz"'
  musicwa query 'doc.release_year >= 1960 && doc.release_year < 1970'
  musicwa query 'any(doc.personnel.leader, .name contains "Evans")'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		listing, err := a.svc.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printListing(listing, jsonOutput)
	},
}

func init() {
	checkCmd.Flags().Bool("lint", false, "Also check music record fields")
	queryCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(queryCmd)
}

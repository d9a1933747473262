package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
	"github.com/nekokan/musicwa/internal/music"
	"github.com/nekokan/musicwa/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "docs",
	Short:   "List documents",
	Long: `List the documents in the directory.

With --labels each document is shown with its music display label, and
documents that do not parse are left out.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, _ := cmd.Flags().GetBool("labels")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		a, err := openApp(cmd.Context(), labels)
		if err != nil {
			return err
		}
		defer a.Close()

		var listing document.Listing
		if labels {
			listing, err = a.svc.ListWithLabels(cmd.Context())
		} else {
			listing, err = a.svc.ListDocuments(cmd.Context())
		}
		if err != nil {
			return err
		}
		return printListing(listing, jsonOutput)
	},
}

func printListing(listing document.Listing, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}
	if len(listing) == 0 {
		fmt.Println(ui.RenderMuted("No documents"))
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range listing {
		if e.Label != "" {
			fmt.Fprintf(tw, "%s\t%s\n", e.ID, e.Label)
		} else {
			fmt.Fprintf(tw, "%s\t%s\n", e.ID, ui.RenderMuted(e.DisplayName))
		}
	}
	return tw.Flush()
}

var showCmd = &cobra.Command{
	Use:     "show ID",
	GroupID: "docs",
	Short:   "Print a document",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.svc.GetDocument(cmd.Context(), document.ID(args[0]))
		if err != nil {
			return err
		}

		switch format {
		case "json":
			data, err := jsonvalue.Pretty(rec.Content)
			if err != nil {
				return err
			}
			os.Stdout.Write(data)
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(rec.Content.ToAny()); err != nil {
				return fmt.Errorf("failed to encode yaml: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q (want json or yaml)", format)
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderMuted("fingerprint"), rec.Fingerprint)
		return nil
	},
}

var newCmd = &cobra.Command{
	Use:     "new ID",
	GroupID: "docs",
	Short:   "Create a new music record",
	Long: `Create a new record with the editor's default fields filled in.

The date accepts natural language ("today", "last friday", "3 days ago") as
well as YYYY/MM/DD.

Examples:
  musicwa new kind-of-blue --title "Kind of Blue"
  musicwa new ost.json --title OST --date "last friday"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		dateFlag, _ := cmd.Flags().GetString("date")

		date, err := parseDate(dateFlag, time.Now())
		if err != nil {
			return err
		}

		id := document.IDFromName(args[0])
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		fp, err := a.svc.SaveDocument(cmd.Context(), id, music.NewRecord(title, date), "")
		if err != nil {
			return err
		}
		fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), id, ui.RenderMuted(string(fp)))
		return nil
	},
}

// parseDate accepts YYYY/MM/DD, YYYY-MM-DD or natural language relative to now.
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, nil
	}
	for _, layout := range []string{"2006/01/02", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return r.Time, nil
}

func init() {
	listCmd.Flags().BoolP("labels", "l", false, "Show music display labels")
	listCmd.Flags().Bool("json", false, "Output as JSON")
	showCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")
	newCmd.Flags().StringP("title", "t", "", "Record title")
	newCmd.Flags().StringP("date", "d", "", "Registration date (default: today)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(newCmd)
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nekokan/musicwa/internal/service"
	"github.com/nekokan/musicwa/internal/ui"
)

var indexCmd = &cobra.Command{
	Use:     "index",
	GroupID: "maint",
	Short:   "Label and search index management",
	Long: `Manage the label and search index.

The index is a local SQLite database (default <root>/.musicwa/index.db) that
holds each document's display label and searchable text, so labelled
listings and search do not have to read every file. It is rebuilt from the
documents at any time and is never the source of truth.`,
}

var indexSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring the index up to date with the documents",
	Long: `Sync the index with the document directory:
  1. Lists every *.json document
  2. Re-indexes documents whose size or modification time changed
  3. Drops entries for documents that are gone or no longer parse`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		path := cfg.IndexPath()
		if path == "" {
			return fmt.Errorf("index is disabled (set index.enabled)")
		}
		if rebuild {
			for _, suffix := range []string{"", "-wal", "-shm"} {
				if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove index: %w", err)
				}
			}
		}

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), cfg.Root)
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.openIndex(cmd.Context(), path); err != nil {
			return err
		}
		stats, err := a.syncer.FullSync(cmd.Context())
		if err != nil {
			return err
		}
		count, _ := a.db.Count(cmd.Context())

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), stats.Duration.Round(time.Millisecond))
		fmt.Printf("   Documents: %d\n", count)
		if stats.Failed > 0 {
			fmt.Printf("   %s %d documents could not be indexed (run 'musicwa check')\n", ui.RenderWarn("⚠"), stats.Failed)
		}
		fmt.Printf("   Index: %s\n", path)
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.IndexPath()
		if path == "" {
			fmt.Printf("\n%s Index disabled\n\n", ui.RenderWarn("⚠"))
			return nil
		}

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Index not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'musicwa index sync' to create it\n\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check index: %w", err)
		}

		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()
		count, err := a.db.Count(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("\n%s Index Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", path)
		fmt.Printf("Size: %s\n", formatSize(info.Size()))
		fmt.Printf("Documents: %d\n", count)
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Println()
		return nil
	},
}

var indexSearchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search labels, titles and personnel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		hits, err := a.svc.Search(cmd.Context(), strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		return printListing(hits, jsonOutput)
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	indexSyncCmd.Flags().Bool("rebuild", false, "Delete the index and build it from scratch")
	indexSearchCmd.Flags().IntP("limit", "n", service.DefaultSearchLimit, "Maximum number of results")
	indexSearchCmd.Flags().Bool("json", false, "Output as JSON")

	indexCmd.AddCommand(indexSyncCmd)
	indexCmd.AddCommand(indexStatusCmd)
	indexCmd.AddCommand(indexSearchCmd)
	rootCmd.AddCommand(indexCmd)
}

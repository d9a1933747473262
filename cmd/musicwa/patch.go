package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nekokan/musicwa/internal/client"
	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
	"github.com/nekokan/musicwa/internal/session"
	"github.com/nekokan/musicwa/internal/ui"
)

// Conflict resolutions.
const (
	resolveAsk       = "ask"
	resolveReload    = "reload"
	resolveOverwrite = "overwrite"
	resolveAbort     = "abort"
)

var patchCmd = &cobra.Command{
	Use:     "patch ID FILE",
	GroupID: "docs",
	Short:   "Edit a document on a running server with a JSON patch",
	Long: `Open a document on the server, apply a patch and save it.

FILE holds either an RFC 6902 JSON Patch (an array of operations) or an
RFC 7386 merge patch (an object). Use - to read it from stdin.

If the document changed on the server since it was opened, the save is
refused. Interactively you are asked what to do; otherwise --on-conflict
decides:
  reload     re-read the document, apply the patch again and save
  overwrite  save the patched content over the newer version
  abort      leave the server copy alone (default)

Examples:
  musicwa patch alone.json fix.json
  echo '{"score": 5}' | musicwa patch alone - --on-conflict reload`,
	Args: cobra.ExactArgs(2),
	RunE: runPatch,
}

func init() {
	patchCmd.Flags().String("on-conflict", resolveAsk, "Conflict handling: ask, reload, overwrite or abort")
	patchCmd.Flags().BoolP("dry-run", "n", false, "Show the diff without saving")
	rootCmd.AddCommand(patchCmd)
}

func runPatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := document.IDFromName(args[0])
	onConflict, _ := cmd.Flags().GetString("on-conflict")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	switch onConflict {
	case resolveAsk, resolveReload, resolveOverwrite, resolveAbort:
	default:
		return fmt.Errorf("unknown --on-conflict %q", onConflict)
	}
	if onConflict == resolveAsk && !ui.IsTerminal(os.Stdin) {
		onConflict = resolveAbort
	}

	patch, err := readPatch(args[1])
	if err != nil {
		return err
	}

	c, err := client.New(&client.Config{
		BaseURL: cfg.ServerURL,
		Timeout: cfg.Client.Timeout.Std(),
		Logger:  logger("client"),
	})
	if err != nil {
		return err
	}
	s := session.New(c, &session.Config{
		Timeout: cfg.Client.Timeout.Std(),
		Logger:  logger("session"),
	})
	c.SetSessionID(s.ID())

	if err := s.Open(ctx, id); err != nil {
		return err
	}

	// Follow the change feed so a newer server copy is reported before the
	// save runs into it.
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	go func() {
		if err := c.Subscribe(feedCtx, s.MarkStale); err != nil {
			logger("client").Printf("Change feed unavailable: %v", err)
		}
	}()

	before := s.Snapshot().Record.Content
	if err := applyPatch(s, patch); err != nil {
		return err
	}

	after := s.Snapshot().Content
	if after.Equal(before) {
		fmt.Printf("%s %s unchanged\n", ui.RenderMuted("="), id)
		return s.Discard()
	}
	if s.Snapshot().Stale {
		fmt.Fprintf(os.Stderr, "%s %s changed on the server after it was opened\n", ui.RenderWarn("⚠"), id)
	}
	if dryRun {
		diff, err := editDiff(before, after)
		if err != nil {
			return err
		}
		fmt.Print(diff)
		return s.Discard()
	}

	err = s.Save(ctx)
	if errors.Is(err, document.ErrConflict) {
		err = resolveConflict(ctx, s, patch, onConflict)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s Saved %s %s\n", ui.RenderPass("✓"), id, ui.RenderMuted(string(s.Snapshot().Record.Fingerprint)))
	return nil
}

func readPatch(path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read patch: %w", err)
	}
	return data, nil
}

func editDiff(before, after jsonvalue.Value) (string, error) {
	from, err := jsonvalue.Pretty(before)
	if err != nil {
		return "", err
	}
	to, err := jsonvalue.Pretty(after)
	if err != nil {
		return "", err
	}
	return session.LineDiff(string(from), string(to)), nil
}

// applyPatch picks the patch flavor by the top-level JSON type.
func applyPatch(s *session.Session, patch []byte) error {
	if strings.HasPrefix(strings.TrimSpace(string(patch)), "[") {
		return s.ApplyPatch(patch)
	}
	return s.MergePatch(patch)
}

func resolveConflict(ctx context.Context, s *session.Session, patch []byte, how string) error {
	id := s.Snapshot().ID()
	fmt.Fprintf(os.Stderr, "%s %s was changed on the server since it was opened\n", ui.RenderWarn("⚠"), id)

	if how == resolveAsk {
		diff, err := s.ConflictDiff(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stderr, diff)

		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Server copy (-) differs from your edit (+). What now?").
				Options(
					huh.NewOption("Reload and apply the patch again", resolveReload),
					huh.NewOption("Overwrite the server copy", resolveOverwrite),
					huh.NewOption("Abort", resolveAbort),
				).
				Value(&how),
		))
		if err := form.Run(); err != nil {
			return err
		}
	}

	switch how {
	case resolveReload:
		if err := s.ResolveReload(ctx); err != nil {
			return err
		}
		if err := applyPatch(s, patch); err != nil {
			return err
		}
		return s.Save(ctx)
	case resolveOverwrite:
		return s.ResolveOverwrite(ctx)
	default:
		if err := s.Discard(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s left unchanged", document.ErrConflict, id)
	}
}

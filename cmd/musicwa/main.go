package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nekokan/musicwa/internal/config"
	"github.com/nekokan/musicwa/internal/index"
	"github.com/nekokan/musicwa/internal/logging"
	"github.com/nekokan/musicwa/internal/service"
	"github.com/nekokan/musicwa/internal/store"
	"github.com/nekokan/musicwa/internal/ui"
)

var (
	configFile string
	verbose    bool
	v          *viper.Viper
	cfg        *config.Config
	sink       *logging.Sink
)

var rootCmd = &cobra.Command{
	Use:   "musicwa",
	Short: "Edit a directory of music JSON documents",
	Long: `musicwa keeps a flat directory of JSON documents describing music
records and serves them to an editor over HTTP.

Saves are guarded by content fingerprints: a save only succeeds if the file
on disk is still the one the editor loaded, so concurrent edits never
silently overwrite each other.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.NewViper(configFile)
		for key, flag := range map[string]string{
			config.KeyRoot:      "root",
			config.KeyServerURL: "server",
		} {
			if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
				return err
			}
		}

		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		sink, err = logging.Open(cfg.Log, nil)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if sink != nil {
			return sink.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./musicwa.toml or ~/.config/musicwa/musicwa.toml)")
	rootCmd.PersistentFlags().String("root", "", "Document directory (env: MUSICWA_ROOT or DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log component activity to stderr")
	rootCmd.PersistentFlags().String("server", "", "Server URL for remote commands (env: MUSICWA_SERVER_URL)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "docs", Title: "Documents:"},
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

// logger returns a component logger from the configured sink. Without
// --verbose, only the server logs.
func logger(component string) *log.Logger {
	if !verbose {
		return logging.Discard()
	}
	if sink == nil {
		return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
	}
	return sink.Logger(component)
}

// app is the local stack: the store, an optional index and the service.
type app struct {
	store  *store.Store
	db     *index.DB
	syncer *index.Syncer
	svc    *service.Service
}

// openApp opens the store under the configured root. With useIndex set and
// the index enabled, the index is opened, synced and used for labels and
// search.
//
// The caller MUST call Close() when done.
func openApp(ctx context.Context, useIndex bool) (*app, error) {
	st, err := store.New(cfg.Root, &store.Config{Logger: logger("store")})
	if err != nil {
		return nil, err
	}
	a := &app{store: st}

	svcConfig := &service.Config{Logger: logger("service")}
	if path := cfg.IndexPath(); useIndex && path != "" {
		if err := a.openIndex(ctx, path); err != nil {
			return nil, err
		}
		if _, err := a.syncer.FullSync(ctx); err != nil {
			a.Close()
			return nil, err
		}
		svcConfig.Labels = a.syncer
		svcConfig.Search = a.syncer
	}

	a.svc = service.New(st, svcConfig)
	if a.syncer != nil {
		a.svc.Observe(a.syncer)
	}
	return a, nil
}

func (a *app) openIndex(ctx context.Context, path string) error {
	database, err := index.Open(path)
	if err != nil {
		return err
	}
	if err := database.InitSchema(ctx); err != nil {
		database.Close()
		return err
	}
	a.db = database
	a.syncer = index.NewSyncer(database, a.store, logger("index"))
	return nil
}

func (a *app) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

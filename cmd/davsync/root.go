package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cyp0633/libcaldora-sync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries what every subcommand shares once the root's pre-run loaded
// the configuration.
type cli struct {
	v       *viper.Viper
	cfgFile string
	offline bool

	cfg       *config.Config
	level     *slog.LevelVar
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New(), level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "davsync",
		Short: "Offline-first CalDAV and CardDAV sync",
		Long: `davsync mirrors the calendars and address books of a CalDAV/CardDAV
server into a local SQLite cache. Changes made while offline are queued and
replayed in order once the server is reachable again.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return c.load() },
		PersistentPostRun: func(*cobra.Command, []string) { c.closeLog() },
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default ./davsync.yaml or ~/.config/davsync/davsync.yaml)")
	flags.BoolVar(&c.offline, "offline", false, "do not contact the server")
	flags.String("server", "", "CalDAV/CardDAV server URL")
	flags.String("store", "", "path of the SQLite cache")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	_ = c.v.BindPFlag("server.url", flags.Lookup("server"))
	_ = c.v.BindPFlag("store.path", flags.Lookup("store"))
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		newSyncCmd(c),
		newStatusCmd(c),
		newPendingCmd(c),
		newEventsCmd(c),
		newContactsCmd(c),
		newCollectionsCmd(c),
		newDaemonCmd(c),
	)
	return root
}

func (c *cli) load() error {
	if err := config.ReadFile(c.v, c.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Decode(c.v)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	c.level.Set(level)
	c.cfg = cfg
	c.logger, c.logCloser = newLogger(cfg.Log, c.level)
	if used := c.v.ConfigFileUsed(); used != "" {
		c.logger.Debug("loaded config", "file", used)
	}
	return nil
}

func (c *cli) closeLog() {
	if c.logCloser != nil {
		if err := c.logCloser.Close(); err != nil {
			fmt.Printf("failed to close log file: %v\n", err)
		}
	}
}

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/showgayaki/camenashi-kun/internal/config"
	"github.com/showgayaki/camenashi-kun/internal/connectivity"
	"github.com/showgayaki/camenashi-kun/internal/flags"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the camera answers ICMP echo requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		pinger := connectivity.ICMPPinger{Timeout: cfg.PingTimeout(), Privileged: cfg.Ping.Privileged}
		if err := pinger.Ping(cmd.Context(), cfg.Camera.Host); err != nil {
			logger.Error("ping failed", "host", cfg.Camera.Host, "error", err)
			return fmt.Errorf("%s is not responding: %w", cfg.Camera.Host, err)
		}
		fmt.Printf("%s is responding\n", cfg.Camera.Host)
		return nil
	},
}

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Inspect or change the persisted alert flags",
}

var flagsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print every known flag",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		snap, err := flags.Snapshot(cmd.Context(), flags.NewSQLStore(database))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, k := range flags.Known {
			fmt.Fprintf(w, "%s\t%t\n", k, snap[k])
		}
		return w.Flush()
	},
}

var flagsSetCmd = &cobra.Command{
	Use:   "set <flag> <true|false>",
	Short: "Set one flag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !lo.Contains(flags.Known, args[0]) {
			return fmt.Errorf("unknown flag %q, expected one of %v", args[0], flags.Known)
		}
		value, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[1], err)
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		return flags.SetBool(cmd.Context(), flags.NewSQLStore(database), args[0], value)
	},
}

var flagsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear every flag so pending alerts are sent again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		store := flags.NewSQLStore(database)
		for _, k := range flags.Known {
			if err := flags.SetBool(cmd.Context(), store, k, false); err != nil {
				return err
			}
		}
		fmt.Println("flags reset")
		return nil
	},
}

var sweepDays int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete archived recordings older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Archive.Enabled() {
			return errors.New("archive is not configured")
		}
		days := cfg.Archive.RetentionDays
		if cmd.Flags().Changed("days") {
			days = sweepDays
		}

		archiver, err := buildArchiver(cfg, logger)
		if err != nil {
			return err
		}
		removed, err := archiver.RemoveOlderThan(cmd.Context(), cfg.Archive.UploadDir, days)
		for _, name := range removed {
			fmt.Println(name)
		}
		fmt.Printf("removed %d file(s) older than %d day(s) from %s\n", len(removed), days, archiver.Host())
		return err
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the external executables the agent depends on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		caps, err := newDoctor(cfg, logger).Refresh(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		names := lo.Keys(caps.Executables)
		sort.Strings(names)
		for _, name := range names {
			d := caps.Executables[name]
			status := "ok"
			detail := d.Version
			if !d.Available {
				status, detail = "missing", d.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, status, detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if !caps.AllOK() {
			return errors.New("some dependencies are missing")
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("camenashi %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepDays, "days", 0, "retention in days (default: archive.retention_days)")

	flagsCmd.AddCommand(flagsGetCmd, flagsSetCmd, flagsResetCmd)
	rootCmd.AddCommand(pingCmd, flagsCmd, sweepCmd, doctorCmd, versionCmd)
}

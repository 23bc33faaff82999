package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"migrate/internal/config"
	"migrate/internal/services"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the migrate settings file",
	}
	cmd.AddCommand(newConfigInitCommand(ctx), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter settings file",
		Long: "Write a commented starter settings file to path, to the --config location,\n" +
			"or to the per-user default when neither is given.",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(ctx, args)
			if err != nil {
				return err
			}
			if _, err := os.Stat(target); err == nil && !force {
				return services.Wrap(services.ErrConfiguration, "config", "init", target+" already exists; pass --force to replace it", nil)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return services.Wrap(services.ErrConfiguration, "config", "init", "inspect "+target, err)
			}
			if err := config.CreateSample(target); err != nil {
				return services.Wrap(services.ErrConfiguration, "config", "init", target, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", target)
			fmt.Fprintln(out, "Set scrape.user_agent before scraping a live site, and point paths.cache_dir and paths.output_dir at disks with room for media.")
			fmt.Fprintf(out, "Check it with: migrate --config %s config validate\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing settings file")
	return cmd
}

func initTarget(ctx *commandContext, args []string) (string, error) {
	raw := ""
	if len(args) == 1 {
		raw = strings.TrimSpace(args[0])
	} else if ctx.configFlag != nil {
		raw = strings.TrimSpace(*ctx.configFlag)
	}
	if raw == "" {
		target, err := config.DefaultConfigPath()
		if err != nil {
			return "", services.Wrap(services.ErrConfiguration, "config", "init", "default settings location", err)
		}
		return target, nil
	}
	target, err := config.ExpandPath(raw)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "config", "init", raw, err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the settings file and show the values a job would use",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var requested string
			if ctx.configFlag != nil {
				requested = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, path, exists, err := config.Load(requested)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "config", "validate", requested, err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return services.Wrap(services.ErrConfiguration, "config", "validate", "create working directories", err)
			}

			out := cmd.OutOrStdout()
			if exists {
				fmt.Fprintf(out, "Settings file: %s\n", path)
			} else {
				fmt.Fprintf(out, "No settings file at %s; built-in defaults apply\n", path)
			}
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, resolvedSettings(cfg), nil))
			if strings.TrimSpace(cfg.Scrape.UserAgent) == "" {
				fmt.Fprintln(out, "Warning: scrape.user_agent is empty; some sites refuse anonymous crawlers")
			}
			fmt.Fprintln(out, "Settings OK")
			return nil
		},
	}
}

func resolvedSettings(cfg *config.Config) [][]string {
	history := "disabled"
	if cfg.History.Enabled {
		history = cfg.Paths.HistoryDB
	}
	return [][]string{
		{"paths.cache_dir", cfg.Paths.CacheDir},
		{"paths.output_dir", cfg.Paths.OutputDir},
		{"paths.log_dir", cfg.Paths.LogDir},
		{"paths.history_db", history},
		{"scrape.categories", strings.Join(cfg.Scrape.Categories, ", ")},
		{"scrape.concurrent", strconv.Itoa(cfg.Scrape.Concurrent)},
		{"scrape.user_agent", cfg.Scrape.UserAgent},
		{"logging", cfg.Logging.Format + " / " + cfg.Logging.Level},
	}
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	core "github.com/aliharslan0/pyrevanced/internal/core"
	"github.com/aliharslan0/pyrevanced/internal/prompt"
	gssh "github.com/aliharslan0/pyrevanced/internal/ssh"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

// Resolve the configuration
func resolveConfig(cmd *cobra.Command) (core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(cfgPath)
}

// Open run history, or nil when disabled or unavailable
func openStore(cfg core.Config) *core.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := core.NewStore(cfg.History.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.History.Path).Msg("run history disabled")
		return nil
	}
	return store
}

// Patch the app
func newPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Download everything, select patches and build the patched package",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if java, _ := cmd.Flags().GetString("java"); java != "" {
				cfg.Java = java
			}
			if output, _ := cmd.Flags().GetString("output"); output != "" {
				cfg.Output = output
			}

			p := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout())
			if cmd.Flags().Changed("patches") {
				preset, _ := cmd.Flags().GetString("patches")
				p.Preset = &preset
			}
			var app api.App
			if token, _ := cmd.Flags().GetString("app"); token != "" {
				if app, err = api.ParseApp(token); err != nil {
					return fmt.Errorf("%w: %w", core.ErrInvalidApp, err)
				}
			} else if app, err = p.ChooseApp(cmd.Context()); err != nil {
				return err
			}

			s, err := core.NewSession(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					log.Warn().Err(err).Msg("cleanup")
				}
			}()

			o := core.NewOrchestrator(s, p, cmd.OutOrStdout())
			if store := openStore(cfg); store != nil {
				defer store.Close()
				o.Store = store
			}
			if _, err := o.Run(cmd.Context(), app, cfg.Output); err != nil {
				return err
			}

			if publish, _ := cmd.Flags().GetBool("publish"); publish {
				remote, sum, err := core.NewPublisher(cfg).Publish(cmd.Context(), cfg.Output)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s (sha256 %s)\n", remote, sum)
			}
			return nil
		},
	}
	cmd.Flags().String("app", "", "app to patch: yt or ytm (prompted when empty)")
	cmd.Flags().StringP("output", "o", "", "path of the patched package (default revanced.apk)")
	cmd.Flags().String("patches", "", "patch indices to include, skips the selection prompt")
	cmd.Flags().String("java", "", "java binary used to run the patcher")
	cmd.Flags().Bool("publish", false, "upload the patched package to the configured publish host")
	return cmd
}

// List the catalog for an app
func newPatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "List the patches available for an app",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			token, _ := cmd.Flags().GetString("app")
			app, err := api.ParseApp(token)
			if err != nil {
				return fmt.Errorf("%w: %w", core.ErrInvalidApp, err)
			}
			s, err := core.NewSession(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			descs, version, err := core.NewCatalogClient(s.Client, cfg.Sources.CatalogURL).Resolve(cmd.Context(), app)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", app, version)
			fmt.Fprint(cmd.OutOrStdout(), prompt.FormatPatches(descs))
			return nil
		},
	}
	cmd.Flags().String("app", "yt", "app: yt or ytm")
	return cmd
}

// Show past runs
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show previous patch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := core.NewStore(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tAPP\tVERSION\tSTATUS\tPATCHES\tDOWNLOADED\tDURATION\tOUTPUT")
			for _, r := range runs {
				var bytes int64
				for _, f := range r.Fetches {
					bytes += f.Bytes
				}
				duration := "-"
				if !r.FinishedAt.IsZero() {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				status := string(r.Status)
				if r.Error != "" {
					status += ": " + r.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					humanize.Time(r.StartedAt), r.App, r.Version, status,
					r.Included, r.Included+r.Excluded, humanize.Bytes(uint64(bytes)), duration, r.Output)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 10, "number of runs to show")
	return cmd
}

// Upload a package to the publish host
func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push [file]",
		Short: "Upload a file to the configured publish host over SFTP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			file := cfg.Output
			if len(args) == 1 {
				file = args[0]
			}
			if _, err := os.Stat(file); err != nil {
				return err
			}
			remote, sum, err := core.NewPublisher(cfg).Publish(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s (sha256 %s)\n", remote, sum)
			return nil
		},
	}
}

// Initialize configuration and the publish key
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "pyrevanced initialization command. Writes a default config and a publish key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = core.DefaultConfigPath()
			}
			out := cmd.OutOrStdout()
			cfg := core.DefaultConfig()
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote default config to %s\n", path)
			} else if cfg, err = core.LoadConfig(path); err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Publish.KeyPath); errors.Is(err, fs.ErrNotExist) {
				pub, err := gssh.GenerateEd25519Keypair(cfg.Publish.KeyPath, "pyrevanced")
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "generated publish key %s\n%s", cfg.Publish.KeyPath, pub)
			}
			if err := gssh.EnsureKnownHostsFile(cfg.Publish.KnownHosts); err != nil {
				return err
			}
			fmt.Fprintf(out, "known hosts file %s\n", cfg.Publish.KnownHosts)

			if key, _ := cmd.Flags().GetString("trust-host-key"); key != "" {
				if cfg.Publish.Host == "" {
					return errors.New("--trust-host-key needs publish.host in the config")
				}
				addr := net.JoinHostPort(cfg.Publish.Host, strconv.Itoa(cfg.Publish.Port))
				if err := gssh.AppendKnownHost(cfg.Publish.KnownHosts, addr, key); err != nil {
					return err
				}
				fmt.Fprintf(out, "trusted host key for %s\n", addr)
			}
			return nil
		},
	}
	cmd.Flags().String("trust-host-key", "", "Host public key (authorized_keys format) of the publish host to add to known_hosts")
	return cmd
}

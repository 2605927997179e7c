package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/calprov/internal/core"
	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/execx"
	"github.com/3cpo-dev/calprov/internal/fetch"
	"github.com/3cpo-dev/calprov/internal/pkgmgr"
	"github.com/3cpo-dev/calprov/internal/pkgmgr/choco"
	"github.com/3cpo-dev/calprov/internal/pkgmgr/winget"
	"github.com/3cpo-dev/calprov/internal/telemetry"
	"github.com/3cpo-dev/calprov/pkg/api"
)

const secretEnv = "CALPROV_ADMIN_PASSWORD"

// resolveAppDir returns the absolute application directory: the argument if
// given, else the directory holding the calprov executable.
func resolveAppDir(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return filepath.Abs(args[0])
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func loadProfile(cmd *cobra.Command) (core.Profile, error) {
	path, _ := cmd.Flags().GetString("profile")
	return core.LoadProfile(path)
}

func newRegistry(r execx.Runner) *pkgmgr.Registry {
	reg := pkgmgr.NewRegistry()
	reg.Register(winget.New(r))
	reg.Register(choco.New(r))
	return reg
}

func downloaders(p core.Profile) map[string]core.Downloader {
	h := fetch.NewHTTP(10 * time.Minute)
	return map[string]core.Downloader{
		"http":  h,
		"https": h,
		"sftp": &fetch.SFTP{
			User:       p.Mirror.User,
			KeyPath:    p.Mirror.KeyPath,
			KnownHosts: p.Mirror.KnownHosts,
			Timeout:    p.Mirror.Timeout,
		},
	}
}

func secretSource(cmd *cobra.Command, p core.Profile) core.SecretSource {
	if cmd.Flags().Changed("admin-password") {
		v, _ := cmd.Flags().GetString("admin-password")
		return core.StaticSecret(v)
	}
	if v, ok := os.LookupEnv(secretEnv); ok {
		return core.StaticSecret(v)
	}
	return core.NewTerminalSecret(p.Secret.Default)
}

// abort shows the remediation box, waits for the operator and exits with code.
func abort(cmd *cobra.Command, ack core.Acknowledger, fe *core.FatalError, code int) error {
	fmt.Fprintln(cmd.OutOrStdout(), renderRemediation(fe))
	ack.Acknowledge()
	return &exitError{code: code}
}

// Provision the machine
func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision [APP_DIR]",
		Short: "Resolve dependencies and prepare the application directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appDir, err := resolveAppDir(args)
			if err != nil {
				return err
			}
			p, err := loadProfile(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("install-timeout") {
				p.PackageManager.InstallTimeout, _ = cmd.Flags().GetDuration("install-timeout")
				if err := p.Validate(); err != nil {
					return err
				}
			}
			if skip, _ := cmd.Flags().GetBool("skip-asset"); skip {
				p.Asset.Skip = true
			}
			noPause, _ := cmd.Flags().GetBool("no-pause")
			var ack core.Acknowledger = core.EnterAck{In: os.Stdin, Out: os.Stderr}
			if noPause {
				ack = core.NoPause{}
			}

			if !env.Elevated() {
				log.Warn().Msg("Not running as administrator; machine-wide installs may fail")
			}
			paths := p.Paths(appDir)
			release, err := core.AcquireLock(paths.Lock)
			if err != nil {
				fe := &core.FatalError{Step: "lock", Err: err}
				if errors.Is(err, core.ErrLocked) {
					fe.WithRemediation("Another calprov run is using %s. Wait for it to finish, or delete %s if no run is active.", appDir, paths.Lock)
				} else {
					fe.WithRemediation("Could not create %s. Check the directory permissions.", paths.Lock)
				}
				return abort(cmd, ack, fe, api.ExitAborted)
			}
			defer func() {
				if err := release(); err != nil {
					log.Warn().Err(err).Msg("Could not remove lock file")
				}
			}()

			runner := execx.OSRunner{}
			reg := newRegistry(runner)
			mgr, err := reg.Get(p.PackageManager.Name)
			if err != nil {
				return abort(cmd, ack, (&core.FatalError{Step: "package_manager", Err: err}).
					WithRemediation("Set package_manager.name in the profile to one of: %s.", strings.Join(reg.Names(), ", ")), api.ExitAborted)
			}
			var journal core.Journal
			if !p.Journal.Disabled {
				store, err := core.NewStore(paths.Journal)
				if err != nil {
					log.Warn().Err(err).Msg("Journal unavailable")
				} else {
					defer store.Close()
					journal = store
				}
			}

			log.Info().Str("app_dir", appDir).Str("package_manager", mgr.Name()).Msg("Provisioning")
			o := core.NewOrchestrator(p, appDir, env.FromProcess(), core.Options{
				Runner:      runner,
				Manager:     mgr,
				Source:      env.DefaultSource(),
				Secrets:     secretSource(cmd, p),
				Downloaders: downloaders(p),
				Journal:     journal,
				Telemetry:   telemetry.NewCollector(p.Telemetry.Enabled, p.Telemetry.OTLPEndpoint),
				Dialect:     core.PlatformDialect(),
			})
			rep := o.Run(cmd.Context())

			if rep.State != api.StateDone {
				fe, _ := core.AsFatal(rep.Err)
				return abort(cmd, ack, fe, rep.ExitCode())
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(rep, p, paths))
			return nil
		},
	}
	cmd.Flags().String("admin-password", "", "admin password for a new .env (default: prompt, or $"+secretEnv+")")
	cmd.Flags().Bool("no-pause", false, "do not wait for Enter after a failure")
	cmd.Flags().Duration("install-timeout", 30*time.Minute, "upper bound for one package-manager install")
	cmd.Flags().Bool("skip-asset", false, "do not fetch the OCR language model")
	return cmd
}

// Probe without changing anything
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [APP_DIR]",
		Short: "Report what provisioning would find, without installing or writing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appDir, err := resolveAppDir(args)
			if err != nil {
				return err
			}
			p, err := loadProfile(cmd)
			if err != nil {
				return err
			}
			paths := p.Paths(appDir)
			rep := core.Inspect(cmd.Context(), p, paths, env.FromProcess(), core.NewProber(execx.OSRunner{}))
			fmt.Fprintln(cmd.OutOrStdout(), renderCheck(rep, p, paths))
			if !rep.Ready() {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

// Show the configured tool path
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [APP_DIR]",
		Short: "Show the application's current configuration (never the password)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appDir, err := resolveAppDir(args)
			if err != nil {
				return err
			}
			p, err := loadProfile(cmd)
			if err != nil {
				return err
			}
			paths := p.Paths(appDir)
			values, err := core.LoadSecretsEnv(paths.Config)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(values) == 0 {
				fmt.Fprintf(out, "%s: not provisioned\n", paths.Config)
				return &exitError{code: 1}
			}
			pw := "unset"
			if values[core.KeyAdminPassword] != "" {
				pw = "set"
			}
			fmt.Fprintf(out, "config\t%s\n", paths.Config)
			fmt.Fprintf(out, "password\t%s\n", pw)
			fmt.Fprintf(out, "tesseract\t%s\n", values[core.KeyToolPath])
			return nil
		},
	}
}

// List journaled runs
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [APP_DIR]",
		Short: "List recent provisioning runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appDir, err := resolveAppDir(args)
			if err != nil {
				return err
			}
			p, err := loadProfile(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			paths := p.Paths(appDir)
			out := cmd.OutOrStdout()
			if _, err := os.Stat(paths.Journal); err != nil {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			store, err := core.NewStore(paths.Journal)
			if err != nil {
				return err
			}
			defer store.Close()
			if runID, _ := cmd.Flags().GetString("run"); runID != "" {
				steps, err := store.Steps(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(steps) == 0 {
					return fmt.Errorf("no run %s in %s", runID, paths.Journal)
				}
				for _, e := range steps {
					fmt.Fprintf(out, "%s\t%s\t%s\n", e.At, e.State, e.Detail)
				}
				return nil
			}
			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s\t%s\t%s\tasset=%s\t%s\n", r.StartedAt, r.ID, r.State, r.Asset, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "number of runs to show")
	cmd.Flags().String("run", "", "show the recorded steps of one run id")
	return cmd
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/dronehub/internal/audit"
	"github.com/zulandar/dronehub/internal/config"
	"github.com/zulandar/dronehub/internal/hive"
	"github.com/zulandar/dronehub/internal/hub"
	"github.com/zulandar/dronehub/internal/preview"
	"github.com/zulandar/dronehub/internal/registry"
	"github.com/zulandar/dronehub/internal/runtime"
	"github.com/zulandar/dronehub/internal/telegraph"
	"github.com/zulandar/dronehub/internal/telegraph/discord"
	"github.com/zulandar/dronehub/internal/telegraph/slack"
)

// reconcileInterval paces the boot-phase reconcile loop.
const reconcileInterval = 5 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub server",
		Long:  "Starts the hub: the HTTP API, the boot-phase reconcile loop, and the preview reachability prober.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.dronehub/config.yaml)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	token := cfg.Token
	if token == "" {
		// No configured token: mint a session token and show it once.
		token, err = sessionToken()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "No token configured; session token: %s\n", token)
	}

	rt := &runtime.Docker{
		Binary:  cfg.Runtime.Binary,
		Timeout: time.Duration(cfg.Runtime.TimeoutSeconds) * time.Second,
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Preflight(ctx); err != nil {
		return err
	}

	store := registry.Open(cfg.RegistryPath)
	trail, err := audit.Open(cfg.AuditPath)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	orch := hive.New(store, rt, hive.Options{
		Image:       cfg.Runtime.Image,
		DefaultPort: cfg.Runtime.DefaultPort,
		Audit:       trail,
		Notifier:    notifier,
	})

	prober := preview.NewProber(time.Duration(cfg.Probe.TimeoutMS) * time.Millisecond)
	go prober.Run(ctx, cfg.Probe.Schedule, probeTargets(store))

	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := orch.Reconcile(ctx); err != nil {
					log.Printf("serve: reconcile: %v", err)
				}
			}
		}
	}()

	return hub.Start(ctx, hub.StartOpts{
		Hive:        orch,
		Store:       store,
		Audit:       trail,
		Prober:      prober,
		Token:       token,
		GitHubToken: cfg.GitHub.Token,
		Port:        cfg.ListenPort,
		Out:         out,
	})
}

// probeTargets adapts the registry into the prober's target lister.
func probeTargets(store registry.Store) preview.TargetLister {
	return func(ctx context.Context) ([]preview.Target, error) {
		reg, err := store.Read()
		if err != nil {
			return nil, err
		}
		var targets []preview.Target
		for _, d := range reg.Drones {
			if d.HostPort == 0 {
				continue
			}
			targets = append(targets, preview.Target{
				DroneID:       d.ID,
				ContainerPort: d.ContainerPort,
				HostPort:      d.HostPort,
			})
		}
		return targets, nil
	}
}

// buildNotifier assembles the configured chat notifiers into a fanout.
// Returns nil when none are configured.
func buildNotifier(cfg *config.Config) (telegraph.Notifier, error) {
	var notifiers []telegraph.Notifier

	if cfg.Notify.Slack.BotToken != "" {
		n, err := slack.New(slack.Opts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Slack.Channel,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if cfg.Notify.Discord.BotToken != "" {
		n, err := discord.New(discord.Opts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Discord.ChannelID,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	if len(notifiers) == 0 {
		return nil, nil
	}
	return telegraph.NewFanout(notifiers...), nil
}

// sessionToken mints a random bearer token for a single serve run.
func sessionToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

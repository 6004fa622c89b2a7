package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Otis-Lab-MUSC/reacher/config"
	"github.com/Otis-Lab-MUSC/reacher/metric"
	"github.com/Otis-Lab-MUSC/reacher/session"
	"github.com/Otis-Lab-MUSC/reacher/transport"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Drive an operant-behavior rig session over serial",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to rig config YAML")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newPortsCmd(flags),
		newRunCmd(flags),
		newArmCmd(flags),
	)
	return rootCmd
}

// loadEnvironment builds the logger and config shared by every command.
func loadEnvironment(flags *rootFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logger, nil
}

func buildController(cfg *config.Config, logger *slog.Logger) (*session.Controller, error) {
	registry := metric.NewRegistry()
	serial := transport.New(transport.Deps{
		Logger:   logger.With("component", "transport"),
		Registry: registry,
		BaudRate: cfg.Serial.BaudRate,
	})
	ctl, err := session.NewController(session.Deps{
		Logger:    logger.With("component", "session"),
		Registry:  registry,
		Transport: serial,
	})
	if err != nil {
		return nil, err
	}
	ctl.SetBoxName(cfg.Box.Name)
	return ctl, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the reacherctl version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, Version)
		},
	}
}

func newPortsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List connected USB serial ports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnvironment(flags)
			if err != nil {
				return err
			}
			serial := transport.New(transport.Deps{
				Logger:   logger.With("component", "transport"),
				BaudRate: cfg.Serial.BaudRate,
			})
			for _, name := range serial.ListPorts() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a session until a limit trips or the operator interrupts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnvironment(flags)
			if err != nil {
				return err
			}
			if port == "" {
				port = cfg.Serial.Port
			}
			if port == "" {
				return fmt.Errorf("no serial port: set --port or serial.port in config")
			}

			ctl, err := buildController(cfg, logger)
			if err != nil {
				return err
			}

			policy, err := cfg.LimitPolicy()
			if err != nil {
				return err
			}
			if err := ctl.ConfigureLimit(policy); err != nil {
				return err
			}
			if cfg.Output.Filename != "" {
				if err := ctl.ConfigureOutput(cfg.Output.Filename, cfg.Output.Destination); err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := ctl.OpenSession(ctx, port); err != nil {
				return err
			}
			defer ctl.CloseSession()

			if err := ctl.Start(); err != nil {
				return err
			}
			logger.Info("session running", "box", ctl.BoxName(), "port", port)

			// Block until the operator interrupts or the limit monitor
			// stops the session.
			ticker := newStopWatcher(ctl)
			select {
			case <-ctx.Done():
				logger.Info("interrupt received, stopping")
				if err := ctl.Stop(); err != nil {
					logger.Error("stop failed", "error", err)
				}
			case <-ticker:
				logger.Info("session stopped by limit")
			}

			return printSummary(cmd, ctl)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port to open")
	return cmd
}

func newArmCmd(flags *rootFlags) *cobra.Command {
	var port string
	var disarm bool

	cmd := &cobra.Command{
		Use:   "arm DEVICE",
		Short: "Arm or disarm one hardware device (PUMP, LASER, CUE, ...)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnvironment(flags)
			if err != nil {
				return err
			}
			if port == "" {
				port = cfg.Serial.Port
			}

			ctl, err := buildController(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := ctl.OpenSession(ctx, port); err != nil {
				return err
			}
			defer ctl.CloseSession()

			device := strings.ToUpper(args[0])
			if err := ctl.ArmDevice(device, !disarm); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s armed=%v\n", device, !disarm)
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port to open")
	cmd.Flags().BoolVar(&disarm, "off", false, "disarm instead of arm")
	return cmd
}

// newStopWatcher returns a channel that closes once the controller
// reaches Stopped, for limit-triggered teardown.
func newStopWatcher(ctl *session.Controller) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctl.State() != session.StateStopped {
			time.Sleep(200 * time.Millisecond)
		}
	}()
	return done
}

func printSummary(cmd *cobra.Command, ctl *session.Controller) error {
	summary := map[string]any{
		"session_id": ctl.SessionID(),
		"box":        ctl.BoxName(),
		"state":      ctl.State().String(),
		"start":      ctl.StartTime(),
		"end":        ctl.EndTime(),
		"elapsed":    ctl.Elapsed().String(),
		"infusions":  ctl.InfusionCount(),
		"behaviors":  len(ctl.BehaviorSnapshot()),
		"frames":     len(ctl.FrameSnapshot()),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintln(os.Stderr, "summary encode failed:", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"securechat/config"
	"securechat/logging"
	"securechat/network"
	"securechat/security"
)

// app carries what the subcommands share once the configuration is loaded
type app struct {
	viper      *viper.Viper
	config     *config.Config
	logger     *logging.SecureLogger
	configFile string
	passkey    string

	// newFrontend is swapped out by tests
	newFrontend func(a *app) (frontend, error)
}

func main() {
	a := &app{newFrontend: defaultFrontend}

	if err := newRootCommand(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("SecureChat v%d.%d.%d", config.VersionMajor, config.VersionMinor, config.VersionPatch)
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "securechat",
		Short:         "Encrypted two-peer chat over a single TCP connection",
		Long:          "SecureChat connects exactly two peers, a host and a client, that share a passkey.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Close()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to config file (default ./securechat.yaml or ~/.securechat/securechat.yaml)")
	flags.Int("port", config.DefaultPort, "TCP port the host listens on and the client dials")
	flags.String("cipher", config.CipherLegacy, "Frame cipher: legacy or sealed (both peers must match)")
	flags.String("ui", config.UITerminal, "Frontend: tui or line")
	flags.String("log-level", "warn", "Log level: silent, error, warn, info, debug")
	flags.String("log-file", "", "Write JSON logs to this file")

	rootCmd.AddCommand(
		hostCmd(a),
		joinCmd(a),
		versionCmd(),
		configCmd(a),
	)

	return rootCmd
}

func hostCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Wait for a peer to connect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd, security.RoleHost, "")
		},
	}
	cmd.Flags().StringVar(&a.passkey, "passkey", "", "Shared passkey (prompted when omitted)")
	return cmd
}

func joinCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <ip>",
		Short: "Connect to a waiting host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd, security.RoleClient, args[0])
		},
	}
	cmd.Flags().StringVar(&a.passkey, "passkey", "", "Shared passkey (prompted when omitted)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return nil
		},
	}
}

func configCmd(a *app) *cobra.Command {
	var initFile bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if initFile {
				path, err := a.writeDefaultConfig()
				if err != nil {
					return fmt.Errorf("failed to create config file: %w", err)
				}
				fmt.Fprintf(out, "Default configuration file created at %s\n", path)
				return nil
			}

			printConfig(out, a.config, a.viper.ConfigFileUsed())
			return nil
		},
	}
	cmd.Flags().BoolVar(&initFile, "init", false, "Write a default configuration file to ~/.securechat/securechat.yaml")
	return cmd
}

// loadConfig merges defaults, the config file, SECURECHAT_* variables and
// flags, then sets up logging
func (a *app) loadConfig(cmd *cobra.Command) error {
	v := config.NewViper()

	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"port":      "port",
		"cipher":    "cipher",
		"ui":        "ui",
		"log_level": "log-level",
		"log_file":  "log-file",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewSecureLogger(level)
	logger.SetConsoleOutput(cmd.ErrOrStderr())
	if cfg.UI == config.UITerminal {
		// the terminal UI owns the screen
		logger.SetConsoleOutput(io.Discard)
	}
	if cfg.LogFile != "" {
		if err := logger.SetFileOutput(cfg.LogFile); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}

	a.viper = v
	a.config = cfg
	a.logger = logger

	logger.Debug("cli", "Configuration loaded", map[string]interface{}{
		"config_file": v.ConfigFileUsed(),
		"port":        cfg.Port,
		"cipher":      cfg.Cipher,
		"ui":          cfg.UI,
	})
	return nil
}

func (a *app) writeDefaultConfig() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(homeDir, ".securechat")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "securechat.yaml")
	v := viper.New()
	config.SetDefaults(v)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return "", err
	}
	return path, nil
}

func printConfig(w io.Writer, cfg *config.Config, source string) {
	if source == "" {
		source = "(defaults)"
	}
	fmt.Fprintf(w, "%s configuration\n", versionString())
	fmt.Fprintf(w, "  source:            %s\n", source)
	fmt.Fprintf(w, "  port:              %d\n", cfg.Port)
	fmt.Fprintf(w, "  dial_timeout:      %s\n", cfg.DialTimeout)
	fmt.Fprintf(w, "  handshake_timeout: %s\n", cfg.HandshakeTimeout)
	fmt.Fprintf(w, "  disconnect_grace:  %s\n", cfg.DisconnectGrace)
	fmt.Fprintf(w, "  cipher:            %s\n", cfg.Cipher)
	fmt.Fprintf(w, "  ui:                %s\n", cfg.UI)
	fmt.Fprintf(w, "  log_level:         %s\n", cfg.LogLevel)
	fmt.Fprintf(w, "  log_file:          %s\n", cfg.LogFile)
}

// runChat validates the inputs, builds the connection manager and hands
// control to the frontend until the user leaves
func (a *app) runChat(cmd *cobra.Command, role security.Role, remoteIP string) error {
	passkey := a.passkey
	if passkey == "" {
		prompted, err := promptPasskey(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		passkey = prompted
	}

	// validated before the frontend takes over the terminal
	isHost := role == security.RoleHost
	if !network.PrepareConnection(isHost, !isHost, remoteIP, passkey, &statusPrinter{out: cmd.ErrOrStderr()}) {
		return errors.New("invalid connection parameters")
	}

	fe, err := a.newFrontend(a)
	if err != nil {
		return fmt.Errorf("failed to start frontend: %w", err)
	}
	defer fe.Shutdown()

	manager, err := network.NewConnectionManager(network.ConnectionRequest{
		Role:     role,
		RemoteIP: remoteIP,
		Passkey:  passkey,
	}, network.Collaborators{
		Status:   fe,
		Messages: fe,
		Receiver: fe,
	}, a.config, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("cli", "Starting chat", map[string]interface{}{
		"role":   role.String(),
		"remote": remoteIP,
		"cipher": a.config.Cipher,
	})

	// SIGTERM, or leaving Run, tears down whatever is still live
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		manager.CloseConnection()
		fe.Stop()
	}()

	return fe.Run(manager)
}

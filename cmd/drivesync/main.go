package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/drivesync/internal/client/config"
	"github.com/openmined/drivesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "DRIVESYNC"
	configFileName = "config"
)

// envOnlyKeys have no default, so AutomaticEnv alone would never see them.
var envOnlyKeys = []string{
	"watch_dir",
	"ignore.patterns",
	"remote.drive.api_url",
	"remote.drive.upload_url",
	"remote.s3.bucket",
	"remote.s3.access_key",
	"remote.s3.secret_key",
	"remote.s3.endpoint",
	"remote.s3.index_path",
	"http.addr",
	"http.token",
}

// flagBindings maps a command flag name to its config key.
type flagBindings map[string]string

var commonBindings = flagBindings{
	"log-level": "log.level",
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "drivesync",
		Short:         "Mirror a local directory tree to remote storage",
		Version:       version.Detailed(),
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "config file (default "+config.DefaultConfigPath+")")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(
		newWatchCmd(),
		newListFilesCmd(),
		newUploadCmd(),
		newLoginCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", red.Render("ERROR"), err)
		stop()
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment (a .env file
// included) and the flags listed in bindings, in increasing precedence.
// The result is not validated.
func loadConfig(cmd *cobra.Command, bindings flagBindings) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	config.SetDefaults(v)

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(config.DefaultConfigDir)
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for _, b := range []flagBindings{commonBindings, bindings} {
		for name, key := range b {
			f := cmd.Flags().Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultConfigPath
	}
	return cfg, nil
}

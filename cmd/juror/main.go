package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "juror",
		Short:        "Juror scoring client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newStatusCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newScoresCommand(),
		newSubmitCommand(),
		newWatchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Juror backend base URL")
	cmd.PersistentFlags().Duration("api-timeout", defaults.GetDuration("api.timeout"), "Per-request timeout")
	cmd.PersistentFlags().Bool("live", defaults.GetBool("live.enabled"), "Use the live channel")
	cmd.PersistentFlags().Duration("reconnect-delay", defaults.GetDuration("live.reconnect_delay"), "Delay before a live reconnect attempt")
	cmd.PersistentFlags().String("session-backend", defaults.GetString("session.backend"), "Session storage (sqlite, redis, memory)")
	cmd.PersistentFlags().String("session-sqlite-path", defaults.GetString("session.sqlite_path"), "SQLite session database path")
	cmd.PersistentFlags().String("session-redis-url", defaults.GetString("session.redis_url"), "Redis URL for session storage")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("status-address", defaults.GetString("status.address"), "Status API listen address for watch (empty disables)")

	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "api.timeout", "api-timeout")
	bindFlag(cmd, "live.enabled", "live")
	bindFlag(cmd, "live.reconnect_delay", "reconnect-delay")
	bindFlag(cmd, "session.backend", "session-backend")
	bindFlag(cmd, "session.sqlite_path", "session-sqlite-path")
	bindFlag(cmd, "session.redis_url", "session-redis-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "status.address", "status-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

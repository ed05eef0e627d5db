package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/config"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/logging"
	"github.com/MarcoPoloResearchLab/jurorsync/internal/stubserver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "juror-stub",
		Short: "In-memory juror backend for local development",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("address", defaults.GetString("stub.address"), "HTTP listen address")
	cmd.PersistentFlags().String("admin-password", "", "Administrator password jurors log in with")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Duration("access-ttl", defaults.GetDuration("stub.access_ttl"), "Access token lifetime")
	cmd.PersistentFlags().Duration("refresh-ttl", defaults.GetDuration("stub.refresh_ttl"), "Refresh token lifetime")
	cmd.PersistentFlags().Bool("login-enabled", defaults.GetBool("stub.login_enabled"), "Accept juror logins")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")

	bindFlag(cmd, "stub.address", "address")
	bindFlag(cmd, "stub.admin_password", "admin-password")
	bindFlag(cmd, "stub.signing_secret", "signing-secret")
	bindFlag(cmd, "stub.access_ttl", "access-ttl")
	bindFlag(cmd, "stub.refresh_ttl", "refresh-ttl")
	bindFlag(cmd, "stub.login_enabled", "login-enabled")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
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

func runServer(ctx context.Context) error {
	stubConfig, err := config.LoadStub(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.New(stubConfig.LoggerOptions("juror-stub"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	stub, err := stubserver.New(stubserver.Config{
		AdminPassword: stubConfig.AdminPassword,
		SigningSecret: []byte(stubConfig.SigningSecret),
		AccessTTL:     stubConfig.AccessTTL,
		RefreshTTL:    stubConfig.RefreshTTL,
		LoginEnabled:  stubConfig.LoginEnabled,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer stub.Close()

	httpServer := &http.Server{
		Addr:    stubConfig.Address,
		Handler: stub.Handler(),
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stub backend starting", zap.String("address", stubConfig.Address))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

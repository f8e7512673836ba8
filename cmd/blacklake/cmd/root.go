package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/blacklakehq/blacklake/pkg/config"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configFileFlagName = "config"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "blacklake",
	Short: "blacklake is a governed, versioned artifact store",
}

// Execute runs the root command, it is called once by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, configFileFlagName, "c", "", "config file (default is $HOME/.blacklake.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".blacklake")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		// a missing default config file is fine, an explicit one is not
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			_, _ = fmt.Fprintf(os.Stderr, "read config: %s\n", err)
			os.Exit(1)
		}
	}
}

// loadConfig builds the typed configuration and applies its logging section.
func loadConfig() *config.Config {
	cfg, err := config.NewConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}
	cfg.SetupLogging()
	if viper.ConfigFileUsed() != "" {
		logging.Default().WithField("file", viper.ConfigFileUsed()).Info("loaded configuration")
	}
	return cfg
}

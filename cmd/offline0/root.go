package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"offline0/internal/logger"
	"offline0/internal/offline0"
)

var (
	cfgFile string
	debug   bool
	rootCmd = &cobra.Command{
		Use:   "offline0",
		Short: "Offline-first caching agent for the booking platform",
		Long: `offline0 sits between the booking platform frontend and its origin. It
precaches the application shell, answers requests from local caches when the
network is slow or gone, queues mutations made offline and replays them when
connectivity returns, and shows push notifications.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(debug || viper.GetBool("logging.debug"))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
		RunE: runServe,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to offline0.yaml (default $OFFLINE0_CONFIG or ./offline0.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Int("port", 0, "listen port, overrides server.port")
	rootCmd.PersistentFlags().String("origin", "", "origin base URL, overrides server.origin")

	for key, flag := range map[string]string{"server.port": "port", "server.origin": "origin"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", flag, err)
		}
	}
}

// initConfig loads an optional .env file and wires OFFLINE0_* environment
// variables. The YAML itself is decoded by offline0.LoadConfig.
func initConfig() {
	_ = godotenv.Load()

	viper.SetEnvPrefix("offline0")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if cfgFile == "" {
		if _, err := os.Stat("offline0.yaml"); err == nil {
			cfgFile = "offline0.yaml"
		}
	}
}

// loadConfig reads the config file and applies flag and environment overrides.
func loadConfig() (offline0.Config, error) {
	return offline0.LoadConfig(cfgFile, func(cfg *offline0.Config) {
		if p := viper.GetInt("server.port"); p != 0 {
			cfg.Server.Port = p
		}
		if o := viper.GetString("server.origin"); o != "" {
			cfg.Server.Origin = o
		}
		if p := viper.GetString("storage.path"); p != "" {
			cfg.Storage.Path = p
		}
		if viper.GetBool("logging.debug") {
			cfg.Logging.Debug = true
		}
	})
}

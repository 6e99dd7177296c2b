package main

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "teamtrace",
	Short: "Reconstruct thread activity from OMPT trace captures",
	Long: `teamtrace reads the event lines printed by the OMPT instrumentation layer and reconstructs, for every
thread, a gap-free timeline of active, idle-in-parallel and idle-sequential intervals, with summary statistics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logrus.SetLevel(logrus.InfoLevel + logrus.Level(viper.GetInt("verbose")))
		if path := viper.GetString("config"); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				return err
			}
			logrus.WithField("config", viper.ConfigFileUsed()).Debug("Loaded configuration")
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "enable extra logging")
	rootCmd.PersistentFlags().String("config", "", "read settings from this YAML file")
	cobra.OnInitialize(initConfig)
}

// initConfig reads in ENV variables and binds flags.
func initConfig() {
	viper.SetEnvPrefix("TEAMTRACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		logrus.WithError(err).Fatal("Failed to set up flags")
	}
}

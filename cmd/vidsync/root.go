package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "vidsync",
		Short:         "Client for the video pipeline: chunked uploads and live job tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, configFlag)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8000/", "Base URL of the pipeline HTTP API")
	rootCmd.PersistentFlags().String("ws-url", "ws://localhost:8000/ws", "Websocket endpoint of the pipeline")
	rootCmd.PersistentFlags().String("token", "", "Auth token")

	rootCmd.AddCommand(newUploadCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

func loadConfig(cmd *cobra.Command, path string) error {
	for key, flag := range map[string]string{
		"api_url": "api-url",
		"ws_url":  "ws-url",
		"token":   "token",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	viper.SetEnvPrefix("VIDSYNC")
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}
	viper.SetConfigName(".vidsync")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		// Flags and env cover everything; a config file is optional.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

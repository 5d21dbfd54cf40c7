package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipforge/vidsync"
)

func newUploadCommand() *cobra.Command {
	var projectID, title, description string

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a video file in 5 MiB chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := url.Parse(viper.GetString("api_url"))
			if err != nil {
				return fmt.Errorf("invalid api-url: %w", err)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			client := vidsync.NewClient(http.DefaultClient, baseURL).WithLogger(log.Logger)
			uploader := vidsync.NewUploader(client).WithLogger(log.Logger)
			uploader.OnProgress = func(percent int) {
				fmt.Fprintf(cmd.OutOrStdout(), "\rprogress: %3d%%", percent)
			}

			result, err := uploader.Upload(cmd.Context(), f, info.Size(), vidsync.UploadMetadata{
				FileName:    filepath.Base(args[0]),
				ProjectID:   projectID,
				Title:       title,
				Description: description,
			})
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded: video %s\n", result.VideoID)
			if result.TaskID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "processing task: %s\n", result.TaskID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project id the video belongs to")
	cmd.Flags().StringVar(&title, "title", "", "Video title")
	cmd.Flags().StringVar(&description, "description", "", "Video description")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipforge/vidsync"
	"github.com/clipforge/vidsync/realtime"
	"github.com/clipforge/vidsync/tracker"
)

func newWatchCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow background jobs live",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL, err := url.Parse(viper.GetString("api_url"))
			if err != nil {
				return fmt.Errorf("invalid api-url: %w", err)
			}
			wsURL, err := url.Parse(viper.GetString("ws_url"))
			if err != nil {
				return fmt.Errorf("invalid ws-url: %w", err)
			}

			client := vidsync.NewClient(http.DefaultClient, apiURL).WithLogger(log.Logger)
			conn := realtime.NewConn(wsURL, log.Logger)
			tr := tracker.New(conn, client, log.Logger)
			tr.Start()
			defer tr.Stop()

			gaveUp := make(chan struct{})
			sub := conn.On(realtime.EventGaveUp, func([]byte) { close(gaveUp) })
			defer conn.Off(sub)

			if err := conn.Connect(viper.GetString("token")); err != nil {
				log.Warn().Err(err).Msg("initial connect failed, retrying in background")
			}
			defer conn.Disconnect()

			pinger := realtime.NewPinger(conn)
			pinger.Start()
			defer pinger.Stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-gaveUp:
					return errors.New("connection lost and reconnect attempts exhausted, live updates have stopped")
				case <-ticker.C:
					if rows := tr.Snapshot(); len(rows) > 0 {
						fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(rows))
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Table redraw interval")

	return cmd
}

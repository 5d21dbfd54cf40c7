package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/clipforge/vidsync/tracker"
)

func renderJobTable(records []tracker.Record) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"VIDEO", "STATUS", "STAGE", "DL %", "PROC %", "SIZE", "MESSAGE"})

	for _, r := range records {
		size := ""
		if r.FileSize > 0 {
			size = fmt.Sprintf("%.1f %s", r.FileSize, r.FileSizeUnit)
		}
		tw.AppendRow(table.Row{
			r.VideoID,
			r.Status,
			r.Stage,
			fmt.Sprintf("%.0f", r.DownloadProgress),
			fmt.Sprintf("%.0f", r.ProcessingProgress),
			size,
			r.Message,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	return tw.Render()
}

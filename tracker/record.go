package tracker

import (
	"time"

	"github.com/clipforge/vidsync"
)

// Record is the reconciled, ephemeral view of one video's background job. It
// is derived, not authoritative: it merges whatever push messages, targeted
// queries and snapshot refreshes have delivered so far.
type Record struct {
	VideoID            string
	Status             string
	DownloadProgress   float64
	ProcessingProgress float64
	Stage              string
	Message            string
	FileSize           float64
	FileSizeUnit       string
	TotalSize          float64
	LastLog            string
	UpdatedAt          time.Time
}

// merge applies one partial update, last-write-wins by arrival time. Fields
// absent from the update keep their prior values; a populated field is never
// erased by a later, sparser update.
func (r *Record) merge(u vidsync.ProgressUpdate, now time.Time) {
	if u.VideoStatus != nil {
		r.Status = *u.VideoStatus
	}
	if u.DownloadProgress != nil {
		r.DownloadProgress = *u.DownloadProgress
	}
	if u.ProcessingProgress != nil {
		r.ProcessingProgress = *u.ProcessingProgress
	}
	if u.ProcessingStage != nil {
		r.Stage = *u.ProcessingStage
	}
	if u.ProcessingMessage != nil {
		r.Message = *u.ProcessingMessage
	}
	if u.FileSize != nil {
		r.FileSize = *u.FileSize
	}
	if u.FileSizeUnit != nil {
		r.FileSizeUnit = *u.FileSizeUnit
	}
	if u.TotalSize != nil {
		r.TotalSize = *u.TotalSize
	}
	r.UpdatedAt = now
}

// mergeVideo applies the server-computed fields of a full entity fetch, the
// terminal-fallback source after a completion push.
func (r *Record) mergeVideo(v vidsync.Video, now time.Time) {
	if v.Status != "" {
		r.Status = v.Status
	}
	if v.FileSize != 0 {
		r.FileSize = v.FileSize
	}
	if v.FileSizeUnit != "" {
		r.FileSizeUnit = v.FileSizeUnit
	}
	r.UpdatedAt = now
}

package vidsync

import (
	"math"

	"github.com/google/uuid"
)

// DefaultChunkSize is fixed for the lifetime of an upload session.
const DefaultChunkSize = 5 * 1024 * 1024

// SessionState is the lifecycle phase of an UploadSession.
type SessionState string

const (
	SessionUploading SessionState = "uploading"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// UploadSession is the explicit state value of one chunked upload. It is a
// plain serializable struct rather than ambient fields, so a persisted
// checkpoint could be added later without reshaping the uploader. No
// checkpoint is persisted today: a restarted process starts over from chunk 0.
type UploadSession struct {
	ID          string       `json:"id"`
	FileName    string       `json:"file_name"`
	FileSize    int64        `json:"file_size"`
	ChunkSize   int64        `json:"chunk_size"`
	TotalChunks int          `json:"total_chunks"`
	NextChunk   int          `json:"next_chunk"`
	VideoID     string       `json:"video_id,omitempty"`
	State       SessionState `json:"state"`
}

// NewUploadSession creates a session for a file of the given size. The file
// identity is immutable once created.
func NewUploadSession(fileName string, fileSize, chunkSize int64) *UploadSession {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := int((fileSize + chunkSize - 1) / chunkSize)
	return &UploadSession{
		ID:          uuid.NewString(),
		FileName:    fileName,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		TotalChunks: total,
		State:       SessionUploading,
	}
}

// Progress reports the overall percent after NextChunk chunks have been
// acknowledged. Rounded up so a 3-chunk upload reports 34, 67, 100.
func (s *UploadSession) Progress() int {
	if s.TotalChunks == 0 {
		return 100
	}
	return int(math.Ceil(float64(s.NextChunk) / float64(s.TotalChunks) * 100))
}

// Done reports whether the session reached a terminal state.
func (s *UploadSession) Done() bool {
	return s.State == SessionCompleted || s.State == SessionFailed
}

// UploadMetadata describes the file being uploaded. Title and Description are
// sent with chunk 0 only.
type UploadMetadata struct {
	FileName    string
	ProjectID   string
	Title       string
	Description string
}

// UploadResult is the terminal payload of a completed session.
type UploadResult struct {
	VideoID string
	TaskID  string
	Video   *Video
}

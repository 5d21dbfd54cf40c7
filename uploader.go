package vidsync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ChunkSender is the transport primitive Uploader drives. *Client implements it.
type ChunkSender interface {
	UploadChunk(ctx context.Context, r ChunkRequest) (*ChunkResponse, error)
}

// DefaultMaxRetries is the number of retries per chunk in addition to the
// initial attempt.
const DefaultMaxRetries = 3

// Uploader owns chunked upload sessions: it slices a file, sends the chunks
// strictly in order, retries failed chunks with linear backoff and carries the
// server-assigned video id across chunks. Chunk i+1 is never sent before chunk
// i's response has been processed, because every chunk after the first depends
// on the id returned by chunk 0.
//
// There is no skip-and-continue policy: exhausting retries on any single chunk
// fails the whole session, and a failed session restarts from chunk 0.
type Uploader struct {
	// MaxRetries is the per-chunk retry budget. A chunk is attempted at most
	// MaxRetries+1 times.
	MaxRetries int

	// ChunkSize is fixed for the lifetime of each session.
	ChunkSize int64

	// OnProgress, if set, is called after each acknowledged chunk with the
	// overall percent. It may fire up to totalChunks times.
	OnProgress func(percent int)

	api   ChunkSender
	log   zerolog.Logger
	sleep func(time.Duration)
}

func NewUploader(api ChunkSender) *Uploader {
	return &Uploader{
		MaxRetries: DefaultMaxRetries,
		ChunkSize:  DefaultChunkSize,
		api:        api,
		log:        zerolog.Nop(),
		sleep:      time.Sleep,
	}
}

// WithLogger returns a copy of the Uploader that logs through l.
func (u *Uploader) WithLogger(l zerolog.Logger) *Uploader {
	u2 := *u
	u2.log = l
	return &u2
}

// Upload runs one session to its terminal state and returns exactly one of a
// result or an error. The context is checked between chunk iterations; an
// in-flight chunk request is not interrupted mid-request unless the transport
// honors the context.
func (u *Uploader) Upload(ctx context.Context, file io.ReaderAt, size int64, meta UploadMetadata) (*UploadResult, error) {
	sess := NewUploadSession(meta.FileName, size, u.ChunkSize)
	if sess.TotalChunks == 0 {
		sess.State = SessionFailed
		return nil, fmt.Errorf("file %q is empty, nothing to upload", meta.FileName)
	}
	u.log.Info().
		Str("session", sess.ID).
		Str("fileName", meta.FileName).
		Int64("fileSize", size).
		Int("totalChunks", sess.TotalChunks).
		Msg("upload session started")

	var last *ChunkResponse
	for i := 0; i < sess.TotalChunks; i++ {
		select {
		case <-ctx.Done():
			sess.State = SessionFailed
			return nil, ctx.Err()
		default:
		}

		resp, err := u.sendChunk(ctx, sess, meta, file, i)
		if err != nil {
			sess.State = SessionFailed
			return nil, err
		}
		if i == 0 {
			if resp.VideoID == "" {
				sess.State = SessionFailed
				return nil, fmt.Errorf("chunk 0 response: %w", ErrMissingHandle)
			}
			sess.VideoID = resp.VideoID
		}

		sess.NextChunk = i + 1
		last = resp
		if u.OnProgress != nil {
			u.OnProgress(sess.Progress())
		}
		// The server's explicit completion flag wins over the local counter.
		if resp.Completed {
			break
		}
	}

	sess.State = SessionCompleted
	u.log.Info().Str("session", sess.ID).Str("videoId", sess.VideoID).Msg("upload session completed")
	return &UploadResult{VideoID: sess.VideoID, TaskID: last.TaskID, Video: last.Video}, nil
}

// sendChunk sends chunk i, retrying transport and protocol failures with
// linear backoff: 1s after the first failure, 2s after the second, and so on.
func (u *Uploader) sendChunk(ctx context.Context, sess *UploadSession, meta UploadMetadata, file io.ReaderAt, i int) (*ChunkResponse, error) {
	off := int64(i) * sess.ChunkSize
	n := sess.ChunkSize
	if off+n > sess.FileSize {
		n = sess.FileSize - off
	}

	var lastErr error
	for attempt := 0; attempt <= u.MaxRetries; attempt++ {
		if attempt > 0 {
			u.sleep(time.Duration(attempt) * time.Second)
		}
		req := ChunkRequest{
			Chunk:       io.NewSectionReader(file, off, n),
			ChunkIndex:  i,
			TotalChunks: sess.TotalChunks,
			FileName:    sess.FileName,
			FileSize:    sess.FileSize,
			ProjectID:   meta.ProjectID,
			VideoID:     sess.VideoID,
		}
		if i == 0 {
			req.Title = meta.Title
			req.Description = meta.Description
		}

		resp, err := u.api.UploadChunk(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		u.log.Warn().
			Str("session", sess.ID).
			Int("chunkIndex", i).
			Int("attempt", attempt+1).
			Err(err).
			Msg("chunk attempt failed")
	}
	return nil, fmt.Errorf("chunk %d failed after %d attempts: %w: last error: %s",
		i, u.MaxRetries+1, ErrRetriesExhausted, lastErr)
}

package vidsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client talks to the video pipeline HTTP API. It is a plain request/response
// primitive: one call, one request, no retries. Retry policy lives in Uploader.
type Client struct {
	BaseURL *url.URL

	client *http.Client
	log    zerolog.Logger
}

func NewClient(client *http.Client, baseURL *url.URL) *Client {
	c := &Client{client: client, BaseURL: baseURL, log: zerolog.Nop()}
	if client == nil {
		c.client = http.DefaultClient
	}
	return c
}

// WithLogger returns a copy of the Client that logs through l.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c2 := *c
	c2.log = l
	return &c2
}

// ChunkRequest is one bounded byte range of a file plus the form fields the
// chunk upload endpoint expects. Chunk 0 carries Title/Description, every
// later chunk carries the VideoID assigned by chunk 0's response.
type ChunkRequest struct {
	Chunk       io.Reader
	ChunkIndex  int
	TotalChunks int
	FileName    string
	FileSize    int64
	ProjectID   string
	Title       string
	Description string
	VideoID     string
}

// ChunkResponse is the server's answer to one chunk. VideoID must be present
// in the very first response of a session. Completed set to true means the
// server holds all chunks and the final object is ready, regardless of how
// many chunks the client has counted.
type ChunkResponse struct {
	VideoID   string `json:"video_id"`
	Completed bool   `json:"completed"`
	Video     *Video `json:"video,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// UploadChunk performs exactly one multipart request for one chunk.
func (c *Client) UploadChunk(ctx context.Context, r ChunkRequest) (resp *ChunkResponse, err error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	var fw io.Writer
	if fw, err = mw.CreateFormFile("chunk", r.FileName); err != nil {
		return
	}
	meter := &chunkMeter{body: r.Chunk}
	if _, err = io.Copy(fw, meter); err != nil {
		return
	}

	fields := map[string]string{
		"chunkIndex":  strconv.Itoa(r.ChunkIndex),
		"totalChunks": strconv.Itoa(r.TotalChunks),
		"fileName":    r.FileName,
		"fileSize":    strconv.FormatInt(r.FileSize, 10),
		"project_id":  r.ProjectID,
	}
	if r.ChunkIndex == 0 {
		fields["title"] = r.Title
		fields["description"] = r.Description
	} else {
		fields["video_id"] = r.VideoID
	}
	for k, v := range fields {
		if err = mw.WriteField(k, v); err != nil {
			return
		}
	}
	if err = mw.Close(); err != nil {
		return
	}

	var req *http.Request
	u := c.endpoint("api/videos/upload")
	if req, err = http.NewRequestWithContext(ctx, http.MethodPost, u, body); err != nil {
		return
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())

	var response *http.Response
	if response, err = c.client.Do(req); err != nil {
		return
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		err = fmt.Errorf("server returned %d HTTP code for chunk %d: %w", response.StatusCode, r.ChunkIndex, ErrUnexpectedResponse)
		return
	}

	resp = &ChunkResponse{}
	if err = json.NewDecoder(response.Body).Decode(resp); err != nil {
		resp = nil
		err = fmt.Errorf("cannot decode chunk %d response: %w", r.ChunkIndex, ErrProtocol)
		return
	}
	c.log.Debug().
		Int("chunkIndex", r.ChunkIndex).
		Int64("bytes", meter.sent).
		Str("videoId", resp.VideoID).
		Bool("completed", resp.Completed).
		Msg("chunk uploaded")
	return
}

// ActiveVideos requests a snapshot of all currently active entities.
func (c *Client) ActiveVideos(ctx context.Context) (updates []ProgressUpdate, err error) {
	err = c.getJSON(ctx, "api/videos/active", &updates)
	return
}

// VideoStatus requests the current progress record of one video.
func (c *Client) VideoStatus(ctx context.Context, videoID string) (update *ProgressUpdate, err error) {
	update = &ProgressUpdate{}
	if err = c.getJSON(ctx, "api/videos/"+videoID+"/status", update); err != nil {
		update = nil
	}
	return
}

// Video fetches the full video entity, including server-computed fields that
// progress messages do not carry.
func (c *Client) Video(ctx context.Context, videoID string) (video *Video, err error) {
	video = &Video{}
	if err = c.getJSON(ctx, "api/videos/"+videoID, video); err != nil {
		video = nil
	}
	return
}

func (c *Client) getJSON(ctx context.Context, path string, out any) (err error) {
	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil); err != nil {
		return
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	var response *http.Response
	if response, err = c.client.Do(req); err != nil {
		return
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		return fmt.Errorf("server returned %d HTTP code for %s: %w", response.StatusCode, path, ErrUnexpectedResponse)
	}
	if err = json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("cannot decode %s response: %w", path, ErrProtocol)
	}
	return
}

func (c *Client) endpoint(path string) string {
	return c.BaseURL.ResolveReference(&url.URL{Path: path}).String()
}

package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/clipforge/vidsync"
	"github.com/clipforge/vidsync/realtime"
)

func strPtr(s string) *string   { return &s }
func numPtr(f float64) *float64 { return &f }

// fakeStream records handlers per event so specs can push messages through
// them directly.
type fakeStream struct {
	mu        sync.Mutex
	handlers  map[string][]realtime.Handler
	connected bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{handlers: map[string][]realtime.Handler{}, connected: true}
}

func (f *fakeStream) On(event string, h realtime.Handler) *realtime.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
	return &realtime.Subscription{}
}

func (f *fakeStream) Off(*realtime.Subscription) {}

func (f *fakeStream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *fakeStream) emit(event string, data []byte) {
	f.mu.Lock()
	hs := append([]realtime.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

// fakeAPI answers the query surface from scripted values and counts calls.
type fakeAPI struct {
	mu     sync.Mutex
	active []vidsync.ProgressUpdate
	status map[string]*vidsync.ProgressUpdate
	videos map[string]*vidsync.Video

	activeCalls int
	statusCalls []string
	videoCalls  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		status: map[string]*vidsync.ProgressUpdate{},
		videos: map[string]*vidsync.Video{},
	}
}

func (f *fakeAPI) ActiveVideos(context.Context) ([]vidsync.ProgressUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeCalls++
	return append([]vidsync.ProgressUpdate(nil), f.active...), nil
}

func (f *fakeAPI) VideoStatus(_ context.Context, videoID string) (*vidsync.ProgressUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, videoID)
	if u, ok := f.status[videoID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeAPI) Video(_ context.Context, videoID string) (*vidsync.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoCalls = append(f.videoCalls, videoID)
	if v, ok := f.videos[videoID]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeAPI) countActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeCalls
}

// timerRecorder captures scheduled refreshes so specs can observe delays and
// fire them deterministically.
type timerRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (tr *timerRecorder) afterFunc(d time.Duration, f func()) *time.Timer {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.delays = append(tr.delays, d)
	tr.fns = append(tr.fns, f)
	return time.AfterFunc(time.Hour, func() {})
}

func (tr *timerRecorder) recorded() []time.Duration {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]time.Duration(nil), tr.delays...)
}

func (tr *timerRecorder) fire(i int) {
	tr.mu.Lock()
	fn := tr.fns[i]
	tr.mu.Unlock()
	fn()
}

var _ = Describe("Tracker", func() {
	var tr *Tracker
	var stream *fakeStream
	var api *fakeAPI
	var timers *timerRecorder
	testTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	BeforeEach(func() {
		stream = newFakeStream()
		api = newFakeAPI()
		timers = &timerRecorder{}
		tr = New(stream, api, zerolog.Nop())
		tr.after = timers.afterFunc
		tr.now = func() time.Time { return testTime }
		tr.Start()
	})
	AfterEach(func() {
		tr.Stop()
	})

	Context("push reconciliation", func() {
		It("should merge a progress push into the video's record", func() {
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","video_status":"downloading","download_progress":40.0}`))

			rec, ok := tr.Record("v1")
			Ω(ok).Should(BeTrue())
			Ω(rec).Should(Equal(Record{
				VideoID:          "v1",
				Status:           "downloading",
				DownloadProgress: 40.0,
				UpdatedAt:        testTime,
			}))
		})
		It("should never erase populated fields on a sparser later update", func() {
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","video_status":"processing","processing_stage":"transcode","processing_progress":50.0}`))
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","processing_progress":55.0}`))

			rec, _ := tr.Record("v1")
			Ω(rec.Status).Should(Equal("processing"))
			Ω(rec.Stage).Should(Equal("transcode"))
			Ω(rec.ProcessingProgress).Should(Equal(55.0))
		})
		It("should land updates for unwatched videos in the snapshot", func() {
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v2","download_progress":10.0}`))
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","download_progress":20.0}`))

			snap := tr.Snapshot()
			Ω(snap).Should(HaveLen(2))
			Ω(snap[0].VideoID).Should(Equal("v1"))
			Ω(snap[1].VideoID).Should(Equal("v2"))
		})
		It("should drop undecodable pushes without side effects", func() {
			stream.emit(realtime.TypeProgressUpdate, []byte(`not json`))
			stream.emit(realtime.TypeProgressUpdate, []byte(`{"type":"progress_update"}`))

			Ω(tr.Snapshot()).Should(BeEmpty())
		})
		It("should record the latest log line from a log push", func() {
			var got []Record
			tr.Watch("v1", func(r Record) { got = append(got, r) })

			stream.emit(realtime.TypeLogUpdate,
				[]byte(`{"type":"log_update","video_id":"v1","message":"segment 4/9 downloaded"}`))

			rec, _ := tr.Record("v1")
			Ω(rec.LastLog).Should(Equal("segment 4/9 downloaded"))
			Ω(got).Should(HaveLen(1))
			Ω(got[0].LastLog).Should(Equal("segment 4/9 downloaded"))
		})
	})

	Context("watchers", func() {
		It("should notify watchers of the video with each reconciled state", func() {
			var got []Record
			tr.Watch("v1", func(r Record) { got = append(got, r) })

			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","download_progress":30.0}`))
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v2","download_progress":99.0}`))
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","download_progress":60.0}`))

			Ω(got).Should(HaveLen(2))
			Ω(got[0].DownloadProgress).Should(Equal(30.0))
			Ω(got[1].DownloadProgress).Should(Equal(60.0))
		})
		It("should stop notifying after Unwatch", func() {
			var got []Record
			w := tr.Watch("v1", func(r Record) { got = append(got, r) })
			tr.Unwatch(w)

			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","download_progress":30.0}`))

			Ω(got).Should(BeEmpty())
		})
	})

	Context("targeted refresh", func() {
		It("should query the video's status shortly after a near-completion push", func() {
			api.status["v1"] = &vidsync.ProgressUpdate{
				VideoStatus:        strPtr("completed"),
				ProcessingProgress: numPtr(100),
			}
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","processing_progress":96.0}`))

			Ω(timers.recorded()).Should(Equal([]time.Duration{targetedRefreshDelay}))
			timers.fire(0)

			Ω(api.statusCalls).Should(Equal([]string{"v1"}))
			rec, _ := tr.Record("v1")
			Ω(rec.Status).Should(Equal("completed"))
			Ω(rec.ProcessingProgress).Should(Equal(100.0))
		})
		It("should collapse rapid near-completion pushes into one pending query", func() {
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","processing_progress":95.0}`))
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","processing_progress":97.0}`))
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","processing_progress":99.0}`))

			Ω(timers.recorded()).Should(HaveLen(1))
		})
		It("should not schedule a query below the near-completion range", func() {
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","processing_progress":94.9}`))

			Ω(timers.recorded()).Should(BeEmpty())
		})
	})

	Context("completion entity re-fetch", func() {
		It("should re-fetch the full entity after a completion push", func() {
			api.videos["v1"] = &vidsync.Video{
				ID: "v1", Status: "completed", FileSize: 104.2, FileSizeUnit: "MB",
			}
			var got []Record
			tr.Watch("v1", func(r Record) { got = append(got, r) })

			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","video_status":"completed"}`))

			Ω(timers.recorded()).Should(Equal([]time.Duration{entityRefreshDelay}))
			timers.fire(0)

			Ω(api.videoCalls).Should(Equal([]string{"v1"}))
			rec, _ := tr.Record("v1")
			Ω(rec.Status).Should(Equal("completed"))
			Ω(rec.FileSize).Should(Equal(104.2))
			Ω(rec.FileSizeUnit).Should(Equal("MB"))
			Ω(got[len(got)-1].FileSize).Should(Equal(104.2))
		})
		It("should treat 100% processing progress as completion", func() {
			api.videos["v1"] = &vidsync.Video{ID: "v1", Status: "completed"}
			stream.emit(realtime.TypeProgressUpdate,
				[]byte(`{"type":"progress_update","video_id":"v1","processing_progress":100.0}`))

			Ω(timers.recorded()).Should(Equal([]time.Duration{entityRefreshDelay}))
		})
	})

	Context("periodic and reconnect refresh", func() {
		It("should merge the active-set snapshot on Refresh", func() {
			api.active = []vidsync.ProgressUpdate{
				{VideoID: "v1", VideoStatus: strPtr("downloading"), DownloadProgress: numPtr(15)},
				{VideoID: "v2", VideoStatus: strPtr("processing"), ProcessingProgress: numPtr(70)},
			}

			tr.Refresh()

			snap := tr.Snapshot()
			Ω(snap).Should(HaveLen(2))
			Ω(snap[0].Status).Should(Equal("downloading"))
			Ω(snap[1].ProcessingProgress).Should(Equal(70.0))
		})
		It("should poll the active set on its period only while connected", func() {
			disconnectedStream := newFakeStream()
			disconnectedStream.setConnected(false)
			pollAPI := newFakeAPI()
			polling := New(disconnectedStream, pollAPI, zerolog.Nop())
			polling.RefreshInterval = 5 * time.Millisecond
			polling.Start()
			defer polling.Stop()

			Consistently(pollAPI.countActive, 50*time.Millisecond).Should(BeZero())

			disconnectedStream.setConnected(true)
			Eventually(pollAPI.countActive).Should(BeNumerically(">", 0))
		})
		It("should refresh on every connected event", func() {
			before := api.countActive()
			stream.emit(realtime.EventConnected, nil)
			Eventually(api.countActive).Should(Equal(before + 1))
		})
	})

	Context("Record", func() {
		It("should report absence for an unknown id", func() {
			_, ok := tr.Record("nope")
			Ω(ok).Should(BeFalse())
		})
	})
})

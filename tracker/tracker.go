// Package tracker keeps per-video job progress fresh for whatever is
// currently rendered. Push delivery alone is not reliable end to end, so
// three complementary signals are reconciled into one record per video: push
// messages, a periodic active-set refresh and targeted per-video queries.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/clipforge/vidsync"
	"github.com/clipforge/vidsync/realtime"
)

const (
	// DefaultRefreshInterval bounds the staleness window when pushes are lost.
	DefaultRefreshInterval = 12 * time.Second

	// targetedRefreshDelay is how long after a near-completion push the one
	// extra per-video query fires. Completion transitions are the
	// highest-value updates and the most likely to be lost to a hiccup.
	targetedRefreshDelay = time.Second

	// entityRefreshDelay is how long after a completion push the full entity
	// re-fetch fires. Completion implies new server-computed fields that a
	// progress message does not carry.
	entityRefreshDelay = 1500 * time.Millisecond

	nearCompletionFloor = 95.0
	queryTimeout        = 10 * time.Second
)

// Stream is the slice of realtime.Conn the tracker needs.
type Stream interface {
	On(event string, h realtime.Handler) *realtime.Subscription
	Off(s *realtime.Subscription)
	Connected() bool
}

// StatusAPI is the query surface backing the poll and targeted-refresh paths.
// *vidsync.Client implements it.
type StatusAPI interface {
	ActiveVideos(ctx context.Context) ([]vidsync.ProgressUpdate, error)
	VideoStatus(ctx context.Context, videoID string) (*vidsync.ProgressUpdate, error)
	Video(ctx context.Context, videoID string) (*vidsync.Video, error)
}

// WatchFunc receives a copy of the reconciled record every time it changes.
type WatchFunc func(Record)

// Watch identifies one registered watcher so it can be removed again.
type Watch struct {
	videoID string
	fn      WatchFunc
}

type Tracker struct {
	RefreshInterval time.Duration

	conn Stream
	api  StatusAPI
	log  zerolog.Logger

	mu              sync.Mutex
	records         map[string]*Record
	watches         map[string][]*Watch
	pendingTargeted map[string]bool
	subs            []*realtime.Subscription
	stop            chan struct{}

	after func(d time.Duration, f func()) *time.Timer
	now   func() time.Time
}

func New(conn Stream, api StatusAPI, log zerolog.Logger) *Tracker {
	return &Tracker{
		RefreshInterval: DefaultRefreshInterval,
		conn:            conn,
		api:             api,
		log:             log,
		records:         make(map[string]*Record),
		watches:         make(map[string][]*Watch),
		pendingTargeted: make(map[string]bool),
		after:           time.AfterFunc,
		now:             time.Now,
	}
}

// Start subscribes to the push message types and begins the periodic refresh
// loop. Stop releases both.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	t.stop = make(chan struct{})
	stop := t.stop
	t.subs = append(t.subs,
		t.conn.On(realtime.TypeProgressUpdate, t.handleProgressPush),
		t.conn.On(realtime.TypeLogUpdate, t.handleLogPush),
		t.conn.On(realtime.EventConnected, func([]byte) { go t.Refresh() }),
	)
	t.mu.Unlock()

	go t.refreshLoop(stop)
}

func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		t.conn.Off(s)
	}
}

// Watch registers a callback for one video id. Watchers survive reconnects
// and are independent of whether any record for the id exists yet.
func (t *Tracker) Watch(videoID string, fn WatchFunc) *Watch {
	w := &Watch{videoID: videoID, fn: fn}
	t.mu.Lock()
	t.watches[videoID] = append(t.watches[videoID], w)
	t.mu.Unlock()
	return w
}

func (t *Tracker) Unwatch(w *Watch) {
	if w == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.watches[w.videoID]
	for i, e := range list {
		if e == w {
			t.watches[w.videoID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(t.watches[w.videoID]) == 0 {
		delete(t.watches, w.videoID)
	}
}

// Record returns a copy of the current record for a video, if any.
func (t *Tracker) Record(videoID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[videoID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all current records, ordered by video id.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out
}

// Refresh merges an active-set snapshot immediately. Called periodically and
// on every reconnect; safe to call by hand.
func (t *Tracker) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	updates, err := t.api.ActiveVideos(ctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("active-set refresh failed")
		return
	}
	for _, u := range updates {
		t.apply(u)
	}
}

func (t *Tracker) refreshLoop(stop chan struct{}) {
	ticker := time.NewTicker(t.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if t.conn.Connected() {
				t.Refresh()
			}
		}
	}
}

func (t *Tracker) handleProgressPush(data []byte) {
	var u vidsync.ProgressUpdate
	if err := json.Unmarshal(data, &u); err != nil || u.VideoID == "" {
		t.log.Debug().Err(err).Msg("dropping undecodable progress update")
		return
	}
	t.apply(u)

	if p := u.ProcessingProgress; p != nil && *p >= nearCompletionFloor && *p < 100 {
		t.scheduleTargetedRefresh(u.VideoID)
	}
	completed := u.VideoStatus != nil && *u.VideoStatus == vidsync.StatusCompleted
	if p := u.ProcessingProgress; completed || (p != nil && *p >= 100) {
		t.scheduleEntityRefresh(u.VideoID)
	}
}

func (t *Tracker) handleLogPush(data []byte) {
	var u vidsync.LogUpdate
	if err := json.Unmarshal(data, &u); err != nil || u.VideoID == "" {
		t.log.Debug().Err(err).Msg("dropping undecodable log update")
		return
	}
	t.mu.Lock()
	rec := t.record(u.VideoID)
	rec.LastLog = u.Message
	rec.UpdatedAt = t.now()
	copyRec := *rec
	watches := append([]*Watch(nil), t.watches[u.VideoID]...)
	t.mu.Unlock()
	t.notify(watches, copyRec)
}

// apply merges one partial update into the record of its video. Updates for
// ids nobody watches still land in the record map so a later Watch or
// Snapshot sees them.
func (t *Tracker) apply(u vidsync.ProgressUpdate) {
	t.mu.Lock()
	rec := t.record(u.VideoID)
	rec.merge(u, t.now())
	copyRec := *rec
	watches := append([]*Watch(nil), t.watches[u.VideoID]...)
	t.mu.Unlock()
	t.notify(watches, copyRec)
}

// record returns the record for an id, creating it if needed. Callers hold mu.
func (t *Tracker) record(videoID string) *Record {
	rec, ok := t.records[videoID]
	if !ok {
		rec = &Record{VideoID: videoID}
		t.records[videoID] = rec
	}
	return rec
}

func (t *Tracker) notify(watches []*Watch, rec Record) {
	for _, w := range watches {
		w.fn(rec)
	}
}

// scheduleTargetedRefresh queries one video's status shortly after a
// near-completion push. At most one query is in flight per video.
func (t *Tracker) scheduleTargetedRefresh(videoID string) {
	t.mu.Lock()
	if t.pendingTargeted[videoID] {
		t.mu.Unlock()
		return
	}
	t.pendingTargeted[videoID] = true
	t.mu.Unlock()

	t.after(targetedRefreshDelay, func() {
		t.mu.Lock()
		delete(t.pendingTargeted, videoID)
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		u, err := t.api.VideoStatus(ctx, videoID)
		if err != nil {
			t.log.Debug().Str("videoId", videoID).Err(err).Msg("targeted refresh failed")
			return
		}
		u.VideoID = videoID
		t.apply(*u)
	})
}

// scheduleEntityRefresh re-fetches the full entity after a completion push,
// picking up server-computed fields a progress message does not carry.
func (t *Tracker) scheduleEntityRefresh(videoID string) {
	t.after(entityRefreshDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		v, err := t.api.Video(ctx, videoID)
		if err != nil {
			t.log.Debug().Str("videoId", videoID).Err(err).Msg("entity refresh failed")
			return
		}
		t.mu.Lock()
		rec := t.record(videoID)
		rec.mergeVideo(*v, t.now())
		copyRec := *rec
		watches := append([]*Watch(nil), t.watches[videoID]...)
		t.mu.Unlock()
		t.notify(watches, copyRec)
	})
}

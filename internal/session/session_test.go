package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/suniash/yolo-playground/internal/artifacts"
	"github.com/suniash/yolo-playground/internal/jobs"
	"github.com/suniash/yolo-playground/internal/overlay"
	"github.com/suniash/yolo-playground/internal/platform/logger"
	"github.com/suniash/yolo-playground/internal/playback"
)

func tracksDoc(frames int) string {
	return fmt.Sprintf(`{"meta":{"fps":30,"frame_count":%d,"width":1280,"height":720},
"frames":[{"frame":0,"objects":[
  {"id":"ball","label":"ball","team":null,"bbox":[100,100,20,20],"confidence":0.7},
  {"id":"7","label":"player","team":"B","bbox":[200,100,40,80],"confidence":0.1}]}]}`, frames)
}

// fakeBackend serves a scripted status sequence; the last entry repeats.
type fakeBackend struct {
	mu          sync.Mutex
	script      []jobs.Status
	calls       int
	docs        map[string]string
	artifactErr error
	rerunErr    error
	reruns      int
	list        []jobs.Snapshot
}

func newFakeBackend(script ...jobs.Status) *fakeBackend {
	return &fakeBackend{
		script: script,
		docs: map[string]string{
			artifacts.Tracks:  tracksDoc(3),
			artifacts.Metrics: `{"summary":{"player_count":2}}`,
			artifacts.Events:  `{"events":[{"id":"evt_1","type":"shot","start":0.5}]}`,
		},
	}
}

func (b *fakeBackend) GetJob(ctx context.Context, id string) (jobs.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.script) == 0 {
		return jobs.Snapshot{}, fmt.Errorf("get %s: %w", id, jobs.ErrNotFound)
	}
	i := b.calls
	if i >= len(b.script) {
		i = len(b.script) - 1
	}
	b.calls++
	st := b.script[i]
	s := jobs.Snapshot{ID: id, Status: st}
	if st == jobs.StatusFailed {
		s.Error = "decoder crashed"
	}
	return s, nil
}

func (b *fakeBackend) ListJobs(ctx context.Context) ([]jobs.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.list, nil
}

func (b *fakeBackend) FetchArtifact(ctx context.Context, jobID, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.artifactErr != nil {
		return nil, b.artifactErr
	}
	return []byte(b.docs[name]), nil
}

func (b *fakeBackend) Rerun(ctx context.Context, id string) (jobs.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rerunErr != nil {
		return jobs.Snapshot{}, b.rerunErr
	}
	b.reruns++
	b.script = []jobs.Status{jobs.StatusProcessing}
	b.calls = 0
	return jobs.Snapshot{ID: id, Status: jobs.StatusQueued}, nil
}

func (b *fakeBackend) statusCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *fakeBackend) setScript(script ...jobs.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = script
	b.calls = 0
}

func (b *fakeBackend) setArtifactErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artifactErr = err
}

func (b *fakeBackend) setDoc(name, doc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[name] = doc
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []jobs.Status
}

func (r *statusRecorder) record(s jobs.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s.Status)
}

type loadCounter struct {
	mu          sync.Mutex
	ok, failed  int
	renderCalls int
}

func (c *loadCounter) ObserveRender(time.Duration) {
	c.mu.Lock()
	c.renderCalls++
	c.mu.Unlock()
}

func (c *loadCounter) ObserveArtifactLoad(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
	} else {
		c.ok++
	}
}

func newTestService(t *testing.T, b *fakeBackend, obs Observer) *Service {
	t.Helper()
	return newTestServiceWith(t, b, obs, nil)
}

func newTestServiceWith(t *testing.T, b *fakeBackend, obs Observer, tweak func(*Options)) *Service {
	t.Helper()
	log := logger.Discard()
	opts := Options{
		Backend:  b,
		Tracker:  jobs.NewPoller(b, time.Millisecond, log, nil),
		Renderer: overlay.NewRenderer(0),
		Filters:  overlay.DefaultFilters(),
		Log:      log,
		Observer: obs,
	}
	if tweak != nil {
		tweak(&opts)
	}
	svc := NewService(NewRegistry(), opts)
	t.Cleanup(svc.CloseAll)
	return svc
}

func waitPhase(t *testing.T, s *Session, want Phase) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := s.State()
		if st.Phase == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("phase = %s (error %q), want %s", st.Phase, st.Error, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSession_artifact_failure_then_reload(t *testing.T) {
	b := newFakeBackend(jobs.StatusQueued, jobs.StatusProcessing, jobs.StatusProcessing, jobs.StatusCompleted)
	b.setArtifactErr(errors.New("tracks: 503"))
	obs := &loadCounter{}
	svc := newTestService(t, b, obs)

	sess := svc.Open("job-1")
	st := waitPhase(t, sess, PhaseError)
	if st.Meta != nil {
		t.Error("no dataset may be installed after a failed load")
	}
	if st.Job == nil || st.Job.Status != jobs.StatusCompleted {
		t.Errorf("job should be completed, got %+v", st.Job)
	}
	if st.Error == "" {
		t.Error("error phase should carry the load error")
	}
	if _, err := sess.Bundle(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Bundle: expected ErrNotReady, got %v", err)
	}

	b.setArtifactErr(nil)
	if err := sess.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	st = sess.State()
	if st.Phase != PhaseReady || st.Meta == nil || st.Meta.FrameCount != 3 || st.Error != "" {
		t.Errorf("unexpected state after reload: %+v", st)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.failed != 1 || obs.ok != 1 {
		t.Errorf("observer saw ok=%d failed=%d, want 1 and 1", obs.ok, obs.failed)
	}
}

func TestSession_observes_every_status(t *testing.T) {
	b := newFakeBackend(jobs.StatusQueued, jobs.StatusProcessing, jobs.StatusProcessing, jobs.StatusCompleted)
	rec := &statusRecorder{}
	log := logger.Discard()
	poller := jobs.NewPoller(b, time.Millisecond, log, nil)

	final, err := poller.Track(context.Background(), "job-1", rec.record)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Errorf("final = %s", final.Status)
	}
	want := []jobs.Status{jobs.StatusQueued, jobs.StatusProcessing, jobs.StatusProcessing, jobs.StatusCompleted}
	if fmt.Sprint(rec.statuses) != fmt.Sprint(want) {
		t.Errorf("statuses = %v, want %v", rec.statuses, want)
	}
}

func TestSession_failed_job(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing, jobs.StatusFailed)
	svc := newTestService(t, b, nil)

	sess := svc.Open("job-1")
	st := waitPhase(t, sess, PhaseFailed)
	if st.Error != "decoder crashed" {
		t.Errorf("Error = %q", st.Error)
	}
	if err := sess.Reload(context.Background()); !errors.Is(err, ErrJobNotCompleted) {
		t.Errorf("Reload: expected ErrJobNotCompleted, got %v", err)
	}
}

func TestSession_unknown_job(t *testing.T) {
	b := newFakeBackend()
	svc := newTestService(t, b, nil)

	sess := svc.Open("missing")
	st := waitPhase(t, sess, PhaseError)
	if st.Job != nil {
		t.Errorf("unexpected job: %+v", st.Job)
	}

	b.setScript(jobs.StatusCompleted)
	if err := sess.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	waitPhase(t, sess, PhaseReady)
}

func TestSession_renders_on_clock_signals(t *testing.T) {
	b := newFakeBackend(jobs.StatusCompleted)
	obs := &loadCounter{}
	svc := newTestService(t, b, obs)

	sess := svc.Open("job-1")
	waitPhase(t, sess, PhaseReady)

	scenes, cancel, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := sess.Post(playback.Event{Kind: playback.Resize, Width: 640, Height: 360}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := sess.Post(playback.Event{Kind: playback.Seeked, Time: 0.01}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := sess.Post(playback.Event{Kind: "pause"}); !errors.Is(err, playback.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case sc := <-scenes:
			if sc.Surface.Width != 640 || len(sc.Boxes) != 2 {
				continue
			}
			if sc.Boxes[0].X != 50 || sc.Boxes[0].W != 10 {
				t.Errorf("ball box not scaled: %+v", sc.Boxes[0])
			}
			if sc.Boxes[1].Color.String() != "#f48c06" {
				t.Errorf("team B color = %s", sc.Boxes[1].Color)
			}
			st := sess.State()
			if st.Time != 0.01 || st.Surface != (overlay.Surface{Width: 640, Height: 360}) || st.Subscribers != 1 {
				t.Errorf("unexpected state: %+v", st)
			}
			return
		case <-deadline:
			t.Fatal("no scene rendered for the posted signals")
		}
	}
}

func TestSession_SetFilters_redraws(t *testing.T) {
	b := newFakeBackend(jobs.StatusCompleted)
	svc := newTestService(t, b, nil)
	sess := svc.Open("job-1")
	waitPhase(t, sess, PhaseReady)
	_ = sess.Post(playback.Event{Kind: playback.Resize, Width: 1280, Height: 720})

	scenes, cancel, _ := sess.Subscribe()
	defer cancel()

	if err := sess.SetFilters(overlay.Filters{ShowPlayers: true}); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sc := <-scenes:
			if len(sc.Boxes) == 1 && sc.Boxes[0].ObjectID == "7" {
				if sess.Filters() != (overlay.Filters{ShowPlayers: true}) {
					t.Errorf("Filters = %+v", sess.Filters())
				}
				return
			}
		case <-deadline:
			t.Fatal("filter change was not rendered")
		}
	}
}

func TestSession_Render_on_demand(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	svc := newTestService(t, b, nil)
	sess := svc.Open("job-1")

	sc, err := sess.Render(0, overlay.Surface{Width: 640, Height: 360}, overlay.DefaultFilters())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if sc.Frame != -1 || len(sc.Boxes) != 0 {
		t.Errorf("nothing should render before the dataset is ready: %+v", sc)
	}

	b.setScript(jobs.StatusCompleted)
	waitPhase(t, sess, PhaseReady)
	sc, _ = sess.Render(0, overlay.Surface{Width: 640, Height: 360}, overlay.DefaultFilters())
	if sc.Frame != 0 || len(sc.Boxes) != 2 {
		t.Errorf("unexpected scene: %+v", sc)
	}
}

func TestSession_Rerun_keeps_dataset_until_replaced(t *testing.T) {
	b := newFakeBackend(jobs.StatusCompleted)
	svc := newTestService(t, b, nil)
	sess := svc.Open("job-1")
	waitPhase(t, sess, PhaseReady)

	b.setDoc(artifacts.Tracks, tracksDoc(9))
	if err := sess.Rerun(context.Background()); err != nil {
		t.Fatalf("Rerun: %v", err)
	}
	st := sess.State()
	if st.Phase != PhaseLoading || st.Meta == nil || st.Meta.FrameCount != 3 {
		t.Fatalf("previous dataset should stay installed while rerunning: %+v", st)
	}
	sc, _ := sess.Render(0, overlay.Surface{Width: 1280, Height: 720}, overlay.DefaultFilters())
	if len(sc.Boxes) != 2 {
		t.Error("overlay should keep rendering the previous dataset")
	}

	b.setScript(jobs.StatusCompleted)
	st = waitPhase(t, sess, PhaseReady)
	if st.Meta == nil || st.Meta.FrameCount != 9 {
		t.Errorf("rerun dataset not installed: %+v", st.Meta)
	}

	b.rerunErr = errors.New("backend down")
	if err := sess.Rerun(context.Background()); err == nil {
		t.Error("Rerun should surface backend errors")
	}
}

func TestSession_Close(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	svc := newTestService(t, b, nil)
	sess := svc.Open("job-1")
	scenes, _, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := svc.Close(sess.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sess.Close()

	for range scenes {
	}
	if st := sess.State(); st.Phase != PhaseClosed {
		t.Errorf("phase = %s", st.Phase)
	}
	if err := sess.Post(playback.Event{Kind: playback.Play}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Post: %v", err)
	}
	if err := sess.SetFilters(overlay.Filters{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SetFilters: %v", err)
	}
	if err := sess.Reload(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Reload: %v", err)
	}
	if err := sess.Rerun(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Rerun: %v", err)
	}
	if _, err := sess.Render(0, overlay.Surface{Width: 1, Height: 1}, overlay.Filters{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Render: %v", err)
	}
	if _, _, err := sess.Subscribe(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe: %v", err)
	}
	if _, err := svc.Get(sess.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after close: %v", err)
	}
	if err := svc.Close(sess.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Close: %v", err)
	}
	if svc.ActiveSources() != 0 {
		t.Errorf("closing the last viewer should stop the job, %d sources left", svc.ActiveSources())
	}
}

func TestService_Open_gives_each_viewer_its_own_session(t *testing.T) {
	b := newFakeBackend(jobs.StatusCompleted)
	svc := newTestService(t, b, nil)

	var wg sync.WaitGroup
	results := make([]*Session, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Open("job-1")
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, sess := range results {
		ids[sess.ID()] = true
	}
	if len(ids) != len(results) {
		t.Errorf("expected %d distinct sessions, got %d", len(results), len(ids))
	}
	if svc.ActiveSessions() != 8 || svc.ActiveSources() != 1 {
		t.Errorf("ActiveSessions = %d, ActiveSources = %d", svc.ActiveSessions(), svc.ActiveSources())
	}
	if st := waitPhase(t, results[0], PhaseReady); st.Viewers != 8 {
		t.Errorf("Viewers = %d, want 8", st.Viewers)
	}
	first, _ := results[0].Bundle()
	for _, sess := range results[1:] {
		if got, err := sess.Bundle(); err != nil || got != first {
			t.Fatalf("viewers of one job should share its bundle: %v", err)
		}
	}
}

func TestService_viewers_keep_their_own_clock_and_filters(t *testing.T) {
	b := newFakeBackend(jobs.StatusCompleted)
	svc := newTestService(t, b, nil)

	a := svc.Open("job-1")
	viewer := svc.Open("job-1")
	waitPhase(t, a, PhaseReady)
	waitPhase(t, viewer, PhaseReady)

	if err := viewer.Post(playback.Event{Kind: playback.Seeked, Time: 0.05}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := a.SetFilters(overlay.Filters{ShowBall: true}); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	if err := a.Post(playback.Event{Kind: playback.Seeked, Time: 0.07}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	st := viewer.State()
	if st.Time != 0.05 || st.Filters != overlay.DefaultFilters() {
		t.Errorf("one viewer's seek and toggles reached another: %+v", st)
	}
	if st := a.State(); st.Time != 0.07 || st.Filters.ShowPlayers {
		t.Errorf("unexpected state: %+v", st)
	}

	if err := svc.Close(a.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st = viewer.State()
	if st.Phase != PhaseReady || st.Viewers != 1 || st.Meta == nil {
		t.Errorf("closing one viewer should not affect another: %+v", st)
	}
	sc, err := viewer.Render(0, overlay.Surface{Width: 1280, Height: 720}, overlay.DefaultFilters())
	if err != nil || len(sc.Boxes) != 2 {
		t.Errorf("remaining viewer should keep rendering: %+v %v", sc, err)
	}
}

func TestService_last_viewer_stops_tracking(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	svc := newTestService(t, b, nil)

	a := svc.Open("job-1")
	viewer := svc.Open("job-1")
	deadline := time.Now().Add(2 * time.Second)
	for b.statusCalls() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("job was never polled")
		}
		time.Sleep(time.Millisecond)
	}

	_ = svc.Close(a.ID())
	if svc.ActiveSources() != 1 {
		t.Fatal("job should stay tracked while a viewer remains")
	}
	before := b.statusCalls()
	time.Sleep(10 * time.Millisecond)
	if b.statusCalls() == before {
		t.Error("polling should continue for the remaining viewer")
	}

	_ = svc.Close(viewer.ID())
	stopped := b.statusCalls()
	time.Sleep(20 * time.Millisecond)
	if got := b.statusCalls(); got != stopped {
		t.Errorf("polling continued after the last viewer closed: %d -> %d", stopped, got)
	}
	if svc.ActiveSources() != 0 {
		t.Errorf("ActiveSources = %d", svc.ActiveSources())
	}
}

func TestService_Reap(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	svc := newTestServiceWith(t, b, nil, func(o *Options) { o.IdleTTL = time.Minute })

	idle := svc.Open("job-1")
	watched := svc.Open("job-1")
	busy := svc.Open("job-2")
	_, cancel, err := watched.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	start := time.Now()
	if n := svc.Reap(start); n != 0 {
		t.Errorf("fresh sessions reaped: %d", n)
	}
	busy.touch(start.Add(50 * time.Second))

	if n := svc.Reap(start.Add(70 * time.Second)); n != 1 {
		t.Fatalf("expected one idle session reaped, got %d", n)
	}
	if _, err := svc.Get(idle.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle session should be gone: %v", err)
	}
	if idle.State().Phase != PhaseClosed {
		t.Error("reaped session should be closed")
	}
	if svc.ActiveSources() != 2 {
		t.Errorf("ActiveSources = %d, want 2", svc.ActiveSources())
	}

	cancel()
	if n := svc.Reap(start.Add(10 * time.Minute)); n != 2 {
		t.Errorf("expected the remaining sessions reaped, got %d", n)
	}
	stopped := b.statusCalls()
	time.Sleep(20 * time.Millisecond)
	if b.statusCalls() != stopped || svc.ActiveSources() != 0 {
		t.Error("reaping every viewer should stop polling")
	}

	off := newTestService(t, b, nil)
	off.Open("job-3")
	if n := off.Reap(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Errorf("reaping without a TTL closed %d sessions", n)
	}
}

func TestService_RunReaper(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	svc := newTestServiceWith(t, b, nil, func(o *Options) { o.IdleTTL = time.Millisecond })
	svc.Open("job-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.RunReaper(ctx, time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for svc.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("reaper never closed the idle session")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}

func TestSession_Post_rejects_oversized_surface(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	svc := newTestServiceWith(t, b, nil, func(o *Options) { o.MaxSurface = 100 })
	sess := svc.Open("job-1")

	if err := sess.Post(playback.Event{Kind: playback.Resize, Width: 101, Height: 50}); !errors.Is(err, ErrSurfaceTooLarge) {
		t.Errorf("expected ErrSurfaceTooLarge, got %v", err)
	}
	if err := sess.Post(playback.Event{Kind: playback.Resize, Width: 100, Height: 100}); err != nil {
		t.Errorf("Post at the limit: %v", err)
	}
	if st := sess.State(); st.Surface != (overlay.Surface{Width: 100, Height: 100}) {
		t.Errorf("Surface = %+v", st.Surface)
	}
}

func TestService_OpenShare(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	shares := newFakeBackend(jobs.StatusCompleted)
	svc := newTestServiceWith(t, b, nil, func(o *Options) { o.Shares = shares })

	sess, err := svc.OpenShare("s-1")
	if err != nil {
		t.Fatalf("OpenShare: %v", err)
	}
	if sess.Kind() != KindShare {
		t.Errorf("Kind = %s", sess.Kind())
	}
	st := waitPhase(t, sess, PhaseReady)
	if st.ShareID != "s-1" || st.Meta == nil || st.Meta.FrameCount != 3 {
		t.Errorf("unexpected state: %+v", st)
	}
	if st.Filters != (overlay.Filters{ShowPlayers: true, ShowBall: true}) {
		t.Errorf("Filters = %+v", st.Filters)
	}
	if err := sess.Rerun(context.Background()); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Rerun: expected ErrReadOnly, got %v", err)
	}
	if b.reruns != 0 || shares.reruns != 0 {
		t.Error("a share session must never rerun the job")
	}
	if shares.statusCalls() != 1 {
		t.Errorf("share status should be read once, got %d", shares.statusCalls())
	}

	job := svc.Open("s-1")
	if svc.ActiveSources() != 2 || job.State().Viewers != 1 {
		t.Error("a share link and a job with the same id must not share a pipeline")
	}

	disabled := newTestService(t, b, nil)
	if _, err := disabled.OpenShare("s-1"); !errors.Is(err, ErrSharesDisabled) {
		t.Errorf("expected ErrSharesDisabled, got %v", err)
	}
}

func TestService_OpenShare_unfinished_job(t *testing.T) {
	shares := newFakeBackend(jobs.StatusProcessing)
	svc := newTestServiceWith(t, newFakeBackend(jobs.StatusProcessing), nil, func(o *Options) { o.Shares = shares })

	sess, _ := svc.OpenShare("s-1")
	st := waitPhase(t, sess, PhaseError)
	if st.Meta != nil || !strings.Contains(st.Error, ErrJobNotCompleted.Error()) {
		t.Errorf("unexpected state: %+v", st)
	}

	shares.setScript(jobs.StatusCompleted)
	if err := sess.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	waitPhase(t, sess, PhaseReady)

	invalid := newFakeBackend()
	svc = newTestServiceWith(t, newFakeBackend(jobs.StatusProcessing), nil, func(o *Options) { o.Shares = invalid })
	sess, _ = svc.OpenShare("expired")
	if st := waitPhase(t, sess, PhaseError); st.Job != nil {
		t.Errorf("invalid link should carry no job: %+v", st)
	}
}

func TestService_Jobs(t *testing.T) {
	b := newFakeBackend(jobs.StatusProcessing)
	b.list = []jobs.Snapshot{{ID: "remote", Status: jobs.StatusQueued}}
	svc := newTestService(t, b, nil)

	list, err := svc.Jobs(context.Background())
	if err != nil || len(list) != 1 || list[0].ID != "remote" {
		t.Errorf("without a feed Jobs should ask the backend: %v %v", list, err)
	}

	live := jobs.NewList()
	live.Upsert(jobs.Snapshot{ID: "live", Status: jobs.StatusCompleted})
	log := logger.Discard()
	withFeed := NewService(NewRegistry(), Options{
		Backend: b, Tracker: jobs.NewPoller(b, time.Millisecond, log, nil),
		Renderer: overlay.NewRenderer(0), Jobs: live, Log: log,
	})
	list, _ = withFeed.Jobs(context.Background())
	if len(list) != 1 || list[0].ID != "live" {
		t.Errorf("Jobs should read the live list: %v", list)
	}
	js, err := withFeed.Job(context.Background(), "live")
	if err != nil || js.Status != jobs.StatusCompleted {
		t.Errorf("Job(live) = %+v, %v", js, err)
	}
	js, err = withFeed.Job(context.Background(), "other")
	if err != nil || js.Status != jobs.StatusProcessing {
		t.Errorf("Job(other) should fall back to the backend: %+v, %v", js, err)
	}
}

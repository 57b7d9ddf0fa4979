package recorder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"framecast/internal/obs"
	"framecast/internal/overlay"
	"framecast/internal/tasks"
)

// fakeDevice emulates the recording device: it writes a real file on
// start so listings and finalization paths have something to stat.
type fakeDevice struct {
	mu          sync.Mutex
	recording   bool
	current     string
	overlayText string
	startCalls  int
	startGate   chan struct{} // when set, StartRecord blocks until closed
}

func (d *fakeDevice) Status(ctx context.Context) (obs.RecordStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return obs.RecordStatus{Active: d.recording}, nil
}

func (d *fakeDevice) StartRecord(ctx context.Context, dir, filename string) error {
	d.mu.Lock()
	gate := d.startGate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recording {
		return errors.New("fake device: output already active")
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte("frame-data"), 0o644); err != nil {
		return err
	}
	d.recording = true
	d.current = path
	d.startCalls++
	return nil
}

func (d *fakeDevice) StopRecord(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.recording {
		return "", obs.ErrNotRecording
	}
	d.recording = false
	return d.current, nil
}

func (d *fakeDevice) SetOverlayText(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlayText = text
	return nil
}

func (d *fakeDevice) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (d *fakeDevice) lastOverlayText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overlayText
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T) (*Service, *fakeDevice, *tasks.Runner, string) {
	t.Helper()
	dev := &fakeDevice{}
	base := t.TempDir()
	runner := tasks.NewRunner(testLogger())
	b := overlay.NewBroadcaster(testLogger(), time.Hour)
	svc := NewService(dev, base, b, runner, testLogger(),
		WithFinalizeDelay(time.Millisecond),
		WithBusyWait(50*time.Millisecond),
	)
	return svc, dev, runner, base
}

const testFile = "2025-08-15_2035_Paddy-vs-Mick_Frame012.mkv"

func TestStartStopListing(t *testing.T) {
	svc, _, _, base := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx, "2025/08", testFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	wantRel := filepath.Join("2025/08", testFile)
	if got := svc.Active(); got != wantRel {
		t.Errorf("Active = %q, want %q", got, wantRel)
	}

	// The in-flight file must never appear in listings.
	metas, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("listing while recording = %v, want empty", metas)
	}

	path, err := svc.Stop(ctx, nil)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if want := filepath.Join(base, wantRel); path != want {
		t.Errorf("Stop path = %q, want %q", path, want)
	}
	if svc.Active() != "" {
		t.Error("active pointer not cleared after stop")
	}

	metas, err = svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("listing after stop = %d entries, want 1", len(metas))
	}
	m := metas[0]
	if m.Path != wantRel || m.SizeBytes <= 0 {
		t.Errorf("meta = %+v, want path %q with sizeBytes > 0", m, wantRel)
	}
	if m.Player1 != "Paddy" || m.Player2 != "Mick" || m.Frame != 12 {
		t.Errorf("identity not decoded: %+v", m)
	}
}

func TestStartRejectedWhileActive(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx, "2025/08", testFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := svc.Start(ctx, "2025/08", "2025-08-15_2040_Jo-vs-Sam_Frame001.mkv")
	if !errors.Is(err, ErrRecordingActive) {
		t.Errorf("second Start error = %v, want ErrRecordingActive", err)
	}
}

func TestConcurrentStartsLeaveOneActive(t *testing.T) {
	svc, dev, _, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	names := []string{
		"2025-08-15_2035_Paddy-vs-Mick_Frame001.mkv",
		"2025-08-15_2036_Paddy-vs-Mick_Frame001.mkv",
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Start(ctx, "2025/08", names[i])
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("got %d failures, want exactly 1 (errs: %v)", failures, errs)
	}
	if dev.startCalls != 1 {
		t.Errorf("device StartRecord called %d times, want 1", dev.startCalls)
	}
	if svc.Active() == "" {
		t.Error("no active recording after concurrent starts")
	}
}

func TestStopAppliesFlagsAfterFinalization(t *testing.T) {
	svc, _, runner, base := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx, "2025/08", testFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// "bogus" is outside the allow-list and must be ignored here.
	if _, err := svc.Stop(ctx, []string{"foul", "brush", "bogus"}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	runner.Wait()

	renamed := filepath.Join(base, "2025/08", "2025-08-15_2035_Paddy-vs-Mick_Frame012[brush][foul].mkv")
	if _, err := os.Stat(renamed); err != nil {
		t.Errorf("flagged file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "2025/08", testFile)); !os.IsNotExist(err) {
		t.Error("original filename still present after flag apply")
	}
}

func TestDiscardDeletesAfterFinalization(t *testing.T) {
	svc, _, runner, base := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx, "2025/08", testFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Discard(ctx); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if svc.Active() != "" {
		t.Error("active pointer not cleared after discard")
	}
	runner.Wait()

	if _, err := os.Stat(filepath.Join(base, "2025/08", testFile)); !os.IsNotExist(err) {
		t.Error("discarded file still present")
	}
}

func TestReviewKeepsFile(t *testing.T) {
	svc, _, _, base := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx, "2025/08", testFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rel, err := svc.Review(ctx)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if want := filepath.Join("2025/08", testFile); rel != want {
		t.Errorf("Review path = %q, want %q", rel, want)
	}
	if svc.Active() != "" {
		t.Error("active pointer not cleared after review")
	}
	if _, err := os.Stat(filepath.Join(base, rel)); err != nil {
		t.Errorf("reviewed file missing: %v", err)
	}

	metas, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 || metas[0].Path != rel {
		t.Errorf("reviewed file not listed: %v", metas)
	}
}

func TestStopWithoutActiveRecording(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Stop(context.Background(), nil); !errors.Is(err, obs.ErrNotRecording) {
		t.Errorf("Stop error = %v, want ErrNotRecording", err)
	}
}

func TestResumeSegmentNumbering(t *testing.T) {
	svc, _, _, base := newTestService(t)
	ctx := context.Background()

	dir := filepath.Join(base, "2025/08")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"2025-08-15_2000_Paddy-vs-Mick_Frame007.mkv",
		"2025-08-15_2010_Paddy-vs-Mick_Frame007_pt2.mkv",
		"2025-08-15_2020_Paddy-vs-Mick_Frame007_pt3.mkv",
		"2025-08-15_2030_Paddy-vs-Mick_Frame008.mkv", // other frame, ignored
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	segment, err := svc.Resume(ctx, "Paddy", "Mick", "2025-08-15", 7)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if segment != 4 {
		t.Errorf("segment = %d, want 4", segment)
	}
	if active := svc.Active(); filepath.Ext(active) != ".mkv" || !strings.Contains(active, "_pt4") {
		t.Errorf("active = %q, want a _pt4 file", active)
	}
}

func TestResumeFirstSegmentIsTwo(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	segment, err := svc.Resume(context.Background(), "Jo", "Sam", "2025-08-15", 3)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if segment != 2 {
		t.Errorf("segment = %d, want 2 when no _ptN files exist", segment)
	}
}

func TestResumeRejectsBadDate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Resume(context.Background(), "Jo", "Sam", "soon", 1); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Resume error = %v, want ErrInvalidRequest", err)
	}
}

func TestTransitionStopsThenStarts(t *testing.T) {
	svc, dev, _, base := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx, "2025/08", testFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped, err := svc.Transition(ctx, TransitionRequest{
		Player1:         "Paddy",
		Player1Nickname: "The Hammer",
		Player2:         "Mick",
		Score:           "3 - 2",
		SessionDate:     "2025-08-15",
		FrameNumber:     13,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if want := filepath.Join(base, "2025/08", testFile); stopped != want {
		t.Errorf("stopped = %q, want %q", stopped, want)
	}
	if svc.Active() == "" || !strings.Contains(svc.Active(), "Frame013") {
		t.Errorf("active = %q, want a Frame013 recording", svc.Active())
	}
	if want := `Paddy "The Hammer" vs Mick | 3 - 2`; dev.lastOverlayText() != want {
		t.Errorf("overlay text = %q, want %q", dev.lastOverlayText(), want)
	}
}

func TestTransitionWithoutActiveRecording(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	stopped, err := svc.Transition(context.Background(), TransitionRequest{
		Player1: "Jo", Player2: "Sam", Score: "0 - 0", SessionDate: "2025-08-15", FrameNumber: 1,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if stopped != "" {
		t.Errorf("stopped = %q, want empty when nothing was recording", stopped)
	}
	if svc.Active() == "" {
		t.Error("transition did not start a recording")
	}
}

func TestEditFlagsRename(t *testing.T) {
	svc, _, _, base := newTestService(t)

	dir := filepath.Join(base, "2025/08")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, testFile), []byte("frame-data"), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := svc.EditFlags(filepath.Join("2025/08", testFile), []string{"foul", "brush"})
	if err != nil {
		t.Fatalf("EditFlags: %v", err)
	}
	wantName := "2025-08-15_2035_Paddy-vs-Mick_Frame012[brush][foul].mkv"
	if meta.Filename != wantName {
		t.Errorf("Filename = %q, want %q", meta.Filename, wantName)
	}
	if _, err := os.Stat(filepath.Join(dir, wantName)); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestEditFlagsRejectsUnknownWithoutMutation(t *testing.T) {
	svc, _, _, base := newTestService(t)

	dir := filepath.Join(base, "2025/08")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, testFile), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.EditFlags(filepath.Join("2025/08", testFile), []string{"party"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if _, err := os.Stat(filepath.Join(dir, testFile)); err != nil {
		t.Error("file was mutated despite invalid flag")
	}
}

func TestEditFlagsRejectsEscape(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.EditFlags("../outside.mkv", []string{"foul"}); !errors.Is(err, ErrPathEscape) {
		t.Errorf("error = %v, want ErrPathEscape", err)
	}
}

func TestListDegradedEntry(t *testing.T) {
	svc, _, _, base := newTestService(t)
	if err := os.WriteFile(filepath.Join(base, "holiday-video.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	metas, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("got %d entries, want 1", len(metas))
	}
	if metas[0].Player1 != "Unknown" || metas[0].Frame != 0 {
		t.Errorf("degraded entry = %+v", metas[0])
	}
}

func TestBusyRejection(t *testing.T) {
	svc, dev, _, _ := newTestService(t)
	ctx := context.Background()

	gate := make(chan struct{})
	dev.mu.Lock()
	dev.startGate = gate
	dev.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx, "2025/08", testFile)
	}()

	// Wait until the first operation holds the control lock, then a
	// second operation must fail busy within the bounded wait.
	deadline := time.Now().Add(2 * time.Second)
	for len(svc.sem) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := svc.Stop(ctx, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("Stop error = %v, want ErrBusy", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
}


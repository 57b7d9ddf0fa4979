// Package recorder sequences recording operations against the device
// and the filesystem. It owns the single active-recording pointer and
// the device-control lock: concurrent start/stop/transition/resume
// requests queue for a bounded wait, then fail busy instead of racing
// the device.
package recorder

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"framecast/internal/codec"
	"framecast/internal/obs"
	"framecast/internal/overlay"
	"framecast/internal/tasks"
)

// DefaultFinalizeDelay is how long the device gets to flush and close
// the output container after acknowledging a stop, before the file is
// renamed, deleted, or handed to a player.
const DefaultFinalizeDelay = 2 * time.Second

// DefaultBusyWait bounds how long a contended operation queues for the
// device lock before failing with ErrBusy.
const DefaultBusyWait = 2 * time.Second

const sessionDateLayout = "2006-01-02"

var videoExts = map[string]struct{}{
	".mkv": {},
	".mp4": {},
	".mov": {},
	".m4v": {},
	".flv": {},
}

// Device is the recording-device surface the orchestrator needs. The
// obs.Client satisfies it; tests substitute a fake.
type Device interface {
	Status(ctx context.Context) (obs.RecordStatus, error)
	StartRecord(ctx context.Context, dir, filename string) error
	StopRecord(ctx context.Context) (string, error)
	SetOverlayText(ctx context.Context, text string) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Service is the recording orchestrator.
type Service struct {
	device        Device
	baseDir       string
	finalizeDelay time.Duration
	busyWait      time.Duration
	overlay       *overlay.Broadcaster
	tasks         *tasks.Runner
	log           *slog.Logger

	// sem is the recording-control lock: capacity one, held across a
	// whole operation including its finalization wait.
	sem chan struct{}

	mu     sync.Mutex
	active string // relative path currently being written, "" when idle
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFinalizeDelay overrides the post-stop finalization wait.
func WithFinalizeDelay(d time.Duration) ServiceOption {
	return func(s *Service) { s.finalizeDelay = d }
}

// WithBusyWait overrides the bounded wait for the device lock.
func WithBusyWait(d time.Duration) ServiceOption {
	return func(s *Service) { s.busyWait = d }
}

// NewService builds the orchestrator around a device, the recordings
// base directory, the overlay broadcaster, and a task runner for
// post-finalization work.
func NewService(device Device, baseDir string, b *overlay.Broadcaster, runner *tasks.Runner, log *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		device:        device,
		baseDir:       baseDir,
		finalizeDelay: DefaultFinalizeDelay,
		busyWait:      DefaultBusyWait,
		overlay:       b,
		tasks:         runner,
		log:           log,
		sem:           make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// acquire takes the recording-control lock, waiting at most busyWait.
func (s *Service) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.busyWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release() { <-s.sem }

// Active returns the relative path currently being written by the
// device, or "" when no recording is in flight.
func (s *Service) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) setActive(rel string) {
	s.mu.Lock()
	s.active = rel
	s.mu.Unlock()
}

// Start begins a recording into dir/filename, generating both from the
// current time when absent. It is rejected while a recording is active.
func (s *Service) Start(ctx context.Context, dir, filename string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.Active() != "" {
		return ErrRecordingActive
	}

	now := time.Now()
	if filename == "" {
		filename = codec.Filename(now, codec.UnknownPlayer, codec.UnknownPlayer, 1)
	}
	absDir := dir
	switch {
	case absDir == "":
		absDir = filepath.Join(s.baseDir, codec.SessionDir(now))
	case !filepath.IsAbs(absDir):
		absDir = filepath.Join(s.baseDir, absDir)
	}

	if err := s.beginRecording(ctx, absDir, filename); err != nil {
		return err
	}
	s.log.Info("recording started", slog.String("path", s.Active()))
	return nil
}

// beginRecording creates the target directory, starts the device, and
// publishes the new active pointer. Caller holds the control lock.
func (s *Service) beginRecording(ctx context.Context, absDir, filename string) error {
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}
	if err := s.device.StartRecord(ctx, absDir, filename); err != nil {
		return err
	}
	s.setActive(s.relTo(filepath.Join(absDir, filename)))
	s.overlay.SetRecording(true)
	return nil
}

// Stop ends the active recording and returns the absolute path the
// device wrote. Valid flags are applied to the filename after the
// finalization delay on a detached task; invalid flags are ignored on
// this path, and a rename failure is logged, never returned.
func (s *Service) Stop(ctx context.Context, flags []string) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	path, err := s.device.StopRecord(ctx)
	if err != nil {
		return "", err
	}
	s.setActive("")
	s.overlay.SetRecording(false)
	s.log.Info("recording stopped", slog.String("path", path))

	if kept := knownFlags(flags); len(kept) > 0 {
		s.tasks.After("apply-flags", s.finalizeDelay, func() error {
			return s.applyFlags(path, kept)
		})
	}
	return path, nil
}

// Discard stops the active recording and deletes the file once the
// device has finalized it. Deletion is best-effort: a failure is logged
// and the discard still counts as done.
func (s *Service) Discard(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	path, err := s.device.StopRecord(ctx)
	if err != nil {
		return err
	}
	s.setActive("")
	s.overlay.SetRecording(false)
	s.log.Info("recording discarded", slog.String("path", path))

	s.tasks.After("discard-cleanup", s.finalizeDelay, func() error {
		return os.Remove(path)
	})
	return nil
}

// Review stops the active recording so a referee can inspect it, waits
// out the finalization delay, and returns the relative path. Nothing is
// deleted and nothing restarts.
func (s *Service) Review(ctx context.Context) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	rel := s.Active()
	if _, err := s.device.StopRecord(ctx); err != nil {
		return "", err
	}
	s.setActive("")
	s.overlay.SetRecording(false)
	time.Sleep(s.finalizeDelay)
	s.log.Info("recording parked for review", slog.String("path", rel))
	return rel, nil
}

// Transition rolls the device over to the next frame: stop the current
// recording if one is active (waiting for finalization), start the new
// one, and push the fresh matchup text onto the device overlay. It
// returns the absolute path of the just-stopped file, if any.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	var stopped string
	status, err := s.device.Status(ctx)
	if err != nil {
		return "", err
	}
	if status.Active {
		stopped, err = s.device.StopRecord(ctx)
		if err != nil {
			return "", err
		}
		s.setActive("")
		s.overlay.SetRecording(false)
		time.Sleep(s.finalizeDelay)
	}

	at := s.sessionStamp(req.SessionDate)
	dir := filepath.Join(s.baseDir, codec.SessionDir(at))
	name := codec.Filename(at, req.Player1, req.Player2, req.FrameNumber)
	if err := s.beginRecording(ctx, dir, name); err != nil {
		return "", err
	}

	text := fmt.Sprintf("%s vs %s | %s",
		displayName(req.Player1, req.Player1Nickname),
		displayName(req.Player2, req.Player2Nickname),
		req.Score,
	)
	if err := s.device.SetOverlayText(ctx, text); err != nil {
		s.log.Warn("overlay text update failed", slog.String("error", err.Error()))
	}

	s.log.Info("recording transitioned",
		slog.String("stopped", stopped),
		slog.String("started", s.Active()),
	)
	return stopped, nil
}

// Resume starts a continuation segment for a frame that was stopped for
// review. The segment number is one past the highest existing _ptN for
// this matchup and frame, with a floor of 2.
func (s *Service) Resume(ctx context.Context, player1, player2, sessionDate string, frameNumber int) (int, error) {
	date, err := time.ParseInLocation(sessionDateLayout, sessionDate, time.Local)
	if err != nil {
		return 0, fmt.Errorf("%w: sessionDate %q", ErrInvalidRequest, sessionDate)
	}

	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()

	if s.Active() != "" {
		return 0, ErrRecordingActive
	}

	p1 := codec.SanitizeName(player1)
	p2 := codec.SanitizeName(player2)
	dir := filepath.Join(s.baseDir, codec.SessionDir(date))

	segment := 2
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("scan session directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := codec.Parse(entry.Name())
		if !ok || id.Player1 != p1 || id.Player2 != p2 || id.Frame != frameNumber {
			continue
		}
		if id.Segment >= segment {
			segment = id.Segment + 1
		}
	}

	at := s.sessionStamp(sessionDate)
	name := codec.SegmentFilename(at, player1, player2, frameNumber, segment)
	if err := s.beginRecording(ctx, dir, name); err != nil {
		return 0, err
	}
	s.log.Info("recording resumed",
		slog.String("path", s.Active()),
		slog.Int("segment", segment),
	)
	return segment, nil
}

// EditFlags replaces the flag set in a finished recording's filename.
// Every flag is validated before any filesystem mutation; the rename
// preserves date, time, players, frame, and segment.
func (s *Service) EditFlags(relPath string, flags []string) (Meta, error) {
	normalized, err := codec.NormalizeFlags(flags)
	if err != nil {
		return Meta{}, err
	}
	abs, err := s.resolve(relPath)
	if err != nil {
		return Meta{}, err
	}

	id, ok := codec.Parse(filepath.Base(abs))
	if !ok {
		return Meta{}, fmt.Errorf("%w: %s", ErrBadFilename, filepath.Base(abs))
	}
	id.Flags = normalized
	newName := codec.Encode(id)
	newAbs := filepath.Join(filepath.Dir(abs), newName)
	if newAbs != abs {
		if err := os.Rename(abs, newAbs); err != nil {
			return Meta{}, fmt.Errorf("rename recording: %w", err)
		}
	}

	info, err := os.Stat(newAbs)
	if err != nil {
		return Meta{}, fmt.Errorf("stat recording: %w", err)
	}
	rel := s.relTo(newAbs)
	s.log.Info("recording flags updated", slog.String("path", rel))
	return metaFor(id, rel, info.Size()), nil
}

// List enumerates finished recordings under the base directory, newest
// first. The active pointer is excluded; non-conforming names appear as
// degraded entries rather than disappearing.
func (s *Service) List() ([]Meta, error) {
	active := s.Active()
	out := []Meta{}
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := videoExts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		rel := s.relTo(path)
		if active != "" && rel == active {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		id, ok := codec.Parse(d.Name())
		if !ok {
			id = codec.Degraded(d.Name(), info.ModTime())
		}
		out = append(out, metaFor(id, rel, info.Size()))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].when.After(out[j].when) })
	return out, nil
}

// Open resolves a relative path for streaming, rejecting escapes and
// non-video extensions.
func (s *Service) Open(relPath string) (*os.File, os.FileInfo, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := videoExts[strings.ToLower(filepath.Ext(abs))]; !ok {
		return nil, nil, ErrNotVideo
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// DeviceStatus reports whether the device is recording.
func (s *Service) DeviceStatus(ctx context.Context) (obs.RecordStatus, error) {
	return s.device.Status(ctx)
}

// Screenshot captures the device's current output.
func (s *Service) Screenshot(ctx context.Context) ([]byte, error) {
	return s.device.Screenshot(ctx)
}

// applyFlags merges flags into the filename of a finalized recording.
// Runs detached, after the finalization delay.
func (s *Service) applyFlags(absPath string, flags []string) error {
	id, ok := codec.Parse(filepath.Base(absPath))
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadFilename, filepath.Base(absPath))
	}
	merged, err := codec.NormalizeFlags(append(id.Flags, flags...))
	if err != nil {
		return err
	}
	id.Flags = merged
	newPath := filepath.Join(filepath.Dir(absPath), codec.Encode(id))
	if newPath == absPath {
		return nil
	}
	if err := os.Rename(absPath, newPath); err != nil {
		return fmt.Errorf("apply flags: %w", err)
	}
	s.log.Info("recording flags applied", slog.String("path", s.relTo(newPath)))
	return nil
}

// resolve joins a client-supplied relative path onto the base
// directory, rejecting anything that would escape it.
func (s *Service) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidRequest)
	}
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return filepath.Join(s.baseDir, clean), nil
}

// relTo rewrites an absolute path relative to the base directory when
// possible, leaving outside paths untouched.
func (s *Service) relTo(abs string) string {
	rel, err := filepath.Rel(s.baseDir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}

// sessionStamp combines the session's calendar day with the current
// wall-clock time, falling back to now for a missing or malformed date.
func (s *Service) sessionStamp(sessionDate string) time.Time {
	now := time.Now()
	if sessionDate == "" {
		return now
	}
	date, err := time.ParseInLocation(sessionDateLayout, sessionDate, time.Local)
	if err != nil {
		return now
	}
	return time.Date(date.Year(), date.Month(), date.Day(), now.Hour(), now.Minute(), 0, 0, time.Local)
}

// knownFlags keeps only tokens from the closed allow-list, dropping the
// rest. Used on the stop path, where invalid flags are ignored rather
// than rejected.
func knownFlags(flags []string) []string {
	var kept []string
	for _, f := range flags {
		if _, err := codec.NormalizeFlags([]string{f}); err == nil {
			kept = append(kept, f)
		}
	}
	return kept
}

// displayName renders a player for the device overlay, quoting the
// nickname when present.
func displayName(name, nickname string) string {
	if nickname == "" {
		return name
	}
	return fmt.Sprintf("%s %q", name, nickname)
}

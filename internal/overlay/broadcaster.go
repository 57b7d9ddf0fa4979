// Package overlay holds the live match state shown on scoreboard
// displays and fans out change events to every attached streaming
// client. Subscribers fail independently: a client that cannot keep up
// is dropped without disturbing the rest.
package overlay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultHeartbeat is the keepalive interval while at least one
// subscriber is attached.
const DefaultHeartbeat = 15 * time.Second

// subscriberBuffer bounds how far a slow client may fall behind before
// it is treated as failed.
const subscriberBuffer = 16

var keepaliveFrame = []byte(":keepalive\n\n")

// Subscriber is one attached streaming client. Frames arrive on Events
// until the subscriber is removed, at which point the channel closes.
type Subscriber struct {
	ch chan []byte
}

// Events returns the subscriber's frame channel.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// Broadcaster owns the overlay State singleton and the subscriber
// registry. All methods are safe for concurrent use; GetState returns
// copies, never the live record.
type Broadcaster struct {
	log       *slog.Logger
	heartbeat time.Duration

	mu     sync.Mutex
	state  State
	subs   map[*Subscriber]struct{}
	hbStop chan struct{}
}

// NewBroadcaster returns a Broadcaster with neutral initial state.
// A heartbeat of 0 means DefaultHeartbeat.
func NewBroadcaster(log *slog.Logger, heartbeat time.Duration) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Broadcaster{
		log:       log,
		heartbeat: heartbeat,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// GetState returns a snapshot of the current overlay state.
func (b *Broadcaster) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.clone()
}

// SubscriberCount reports how many clients are attached.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// AddClient registers a new subscriber. Its first frame is always a
// full-state match_update. The shared heartbeat starts with the first
// subscriber.
func (b *Broadcaster) AddClient() *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	// A fresh buffered channel always has room for the snapshot.
	sub.ch <- sseFrame(EventMatchUpdate, b.state.clone())
	if len(b.subs) == 1 {
		b.hbStop = make(chan struct{})
		go b.heartbeatLoop(b.hbStop)
	}
	b.log.Debug("overlay subscriber attached", slog.Int("subscribers", len(b.subs)))
	return sub
}

// RemoveClient deregisters sub. Safe to call more than once; the
// heartbeat stops when the last subscriber leaves.
func (b *Broadcaster) RemoveClient(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

func (b *Broadcaster) dropLocked(sub *Subscriber) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	if len(b.subs) == 0 && b.hbStop != nil {
		close(b.hbStop)
		b.hbStop = nil
	}
	b.log.Debug("overlay subscriber detached", slog.Int("subscribers", len(b.subs)))
}

// UpdateMatch replaces the matchup fields, clears the last winner, and
// broadcasts a match_update.
func (b *Broadcaster) UpdateMatch(playerA, playerB *Player, sessionDate string, frameNumber int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.PlayerA = clonePlayer(playerA)
	b.state.PlayerB = clonePlayer(playerB)
	b.state.SessionDate = sessionDate
	b.state.FrameNumber = frameNumber
	b.state.LastWinnerID = nil
	b.broadcastLocked(EventMatchUpdate)
}

// UpdateScore sets both scores and the last frame winner, then
// broadcasts a score_update.
func (b *Broadcaster) UpdateScore(winnerID int64, scoreA, scoreB int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.PlayerA != nil {
		b.state.PlayerA.Score = scoreA
	}
	if b.state.PlayerB != nil {
		b.state.PlayerB.Score = scoreB
	}
	b.state.LastWinnerID = &winnerID
	b.broadcastLocked(EventScoreUpdate)
}

// SetVisibility toggles the overlay and broadcasts a visibility event.
func (b *Broadcaster) SetVisibility(visible bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Visible = visible
	b.broadcastLocked(EventVisibility)
}

// SetRecording updates the recording indicator and broadcasts a
// recording_status event.
func (b *Broadcaster) SetRecording(isRecording bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.IsRecording = isRecording
	b.broadcastLocked(EventRecordingStatus)
}

// UpdateFull shallow-merges an arbitrary partial state and broadcasts
// it as a match_update. Unknown fields are ignored.
func (b *Broadcaster) UpdateFull(partial json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.state.clone()
	if err := json.Unmarshal(partial, &next); err != nil {
		return fmt.Errorf("merge overlay state: %w", err)
	}
	b.state = next
	b.broadcastLocked(EventMatchUpdate)
	return nil
}

// broadcastLocked sends the current full state to every subscriber as
// the given event type. A subscriber whose buffer is full is dropped.
// Caller must hold b.mu.
func (b *Broadcaster) broadcastLocked(event string) {
	frame := sseFrame(event, b.state.clone())
	b.sendAllLocked(frame)
}

func (b *Broadcaster) sendAllLocked(frame []byte) {
	var stale []*Subscriber
	for sub := range b.subs {
		select {
		case sub.ch <- frame:
		default:
			stale = append(stale, sub)
		}
	}
	for _, sub := range stale {
		b.log.Info("dropping stalled overlay subscriber")
		b.dropLocked(sub)
	}
}

// heartbeatLoop writes a comment frame to every subscriber on a fixed
// interval so intermediaries keep idle streams open.
func (b *Broadcaster) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			b.sendAllLocked(keepaliveFrame)
			b.mu.Unlock()
		}
	}
}

func clonePlayer(p *Player) *Player {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// sseFrame renders one Server-Sent-Events frame.
func sseFrame(event string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload))
}

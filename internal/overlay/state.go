package overlay

// Event types sent over the stream. Every subscriber's first event is a
// full-state EventMatchUpdate.
const (
	EventMatchUpdate     = "match_update"
	EventScoreUpdate     = "score_update"
	EventVisibility      = "visibility"
	EventRecordingStatus = "recording_status"
)

// Player is one side of the on-screen matchup.
type Player struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	Score    int    `json:"score"`
}

// State is the single authoritative overlay state. It is created once
// at process start with neutral defaults and mutated only through the
// Broadcaster.
type State struct {
	Visible      bool    `json:"visible"`
	IsRecording  bool    `json:"isRecording"`
	PlayerA      *Player `json:"playerA"`
	PlayerB      *Player `json:"playerB"`
	SessionDate  string  `json:"sessionDate,omitempty"`
	FrameNumber  int     `json:"frameNumber"`
	LastWinnerID *int64  `json:"lastWinnerId"`
}

// clone returns a deep copy so snapshots never share player pointers
// with the live state.
func (s State) clone() State {
	out := s
	if s.PlayerA != nil {
		a := *s.PlayerA
		out.PlayerA = &a
	}
	if s.PlayerB != nil {
		b := *s.PlayerB
		out.PlayerB = &b
	}
	if s.LastWinnerID != nil {
		id := *s.LastWinnerID
		out.LastWinnerID = &id
	}
	return out
}

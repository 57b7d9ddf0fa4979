package recorder

import (
	"path/filepath"
	"time"

	"framecast/internal/codec"
)

// Meta describes one finished recording file. It is derived entirely
// from the filesystem at listing time; there is no recording table.
type Meta struct {
	Path      string   `json:"path"` // relative to the base directory
	Filename  string   `json:"filename"`
	Date      string   `json:"date"` // YYYY-MM-DD
	Time      string   `json:"time"` // HH:MM
	Player1   string   `json:"player1"`
	Player2   string   `json:"player2"`
	Frame     int      `json:"frameNumber"`
	Segment   int      `json:"segment"`
	Flags     []string `json:"flags"`
	SizeBytes int64    `json:"sizeBytes"`

	when time.Time // sort key
}

// TransitionRequest carries the next frame's matchup into Transition.
type TransitionRequest struct {
	Player1         string `json:"player1"`
	Player2         string `json:"player2"`
	Player1Nickname string `json:"player1Nickname,omitempty"`
	Player2Nickname string `json:"player2Nickname,omitempty"`
	Score           string `json:"score"`
	SessionDate     string `json:"sessionDate"`
	FrameNumber     int    `json:"frameNumber"`
}

func metaFor(id codec.Identity, rel string, size int64) Meta {
	flags := id.Flags
	if flags == nil {
		flags = []string{}
	}
	return Meta{
		Path:      rel,
		Filename:  filepath.Base(rel),
		Date:      id.When.Format("2006-01-02"),
		Time:      id.When.Format("15:04"),
		Player1:   id.Player1,
		Player2:   id.Player2,
		Frame:     id.Frame,
		Segment:   id.Segment,
		Flags:     flags,
		SizeBytes: size,
		when:      id.When,
	}
}

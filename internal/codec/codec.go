// Package codec encodes and decodes recording identities to and from
// filenames. The filename is the only persistent record of a recording,
// so the grammar is strict on encode and forgiving on decode: a name
// that does not conform yields a degraded identity instead of an error.
//
// Grammar:
//
//	YYYY-MM-DD_HHmm_<player1>-vs-<player2>_Frame<NNN>[_ptN][flag-brackets]<.ext>
//
// Player names must not contain underscores, brackets, or the literal
// "-vs-"; SanitizeName produces a conforming name from arbitrary input.
package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultExt is the container extension OBS writes by default.
const DefaultExt = ".mkv"

// UnknownPlayer is the placeholder used in degraded identities and
// generated filenames when no player name is available.
const UnknownPlayer = "Unknown"

const (
	matchupSep  = "-vs-"
	stampLayout = "2006-01-02_1504"
)

// AllowedFlags is the closed set of flag tokens a filename may carry,
// in sorted order. Anything else is rejected before it reaches a rename.
var AllowedFlags = []string{"brush", "clearance", "fluke", "foul"}

var allowedFlagSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(AllowedFlags))
	for _, f := range AllowedFlags {
		m[f] = struct{}{}
	}
	return m
}()

// ErrUnknownFlag is returned (wrapped with the offending token) when a
// flag outside AllowedFlags is passed to NormalizeFlags.
var ErrUnknownFlag = errors.New("unknown flag")

// Identity is the structured form of a recording filename.
type Identity struct {
	When    time.Time // calendar day plus hour:minute
	Player1 string
	Player2 string
	Frame   int
	Segment int // 1 means no _ptN suffix
	Flags   []string
	Ext     string // includes the dot, e.g. ".mkv"
}

// Encode renders id as a filename. Flags are sorted and deduplicated,
// the frame number is zero-padded to three digits, and the segment
// suffix is omitted for segment 1.
func Encode(id Identity) string {
	var b strings.Builder
	b.WriteString(id.When.Format(stampLayout))
	b.WriteByte('_')
	b.WriteString(id.Player1)
	b.WriteString(matchupSep)
	b.WriteString(id.Player2)
	fmt.Fprintf(&b, "_Frame%03d", id.Frame)
	if id.Segment > 1 {
		fmt.Fprintf(&b, "_pt%d", id.Segment)
	}
	for _, f := range sortFlags(id.Flags) {
		b.WriteByte('[')
		b.WriteString(f)
		b.WriteByte(']')
	}
	b.WriteString(id.Ext)
	return b.String()
}

// Parse decodes a filename into an Identity. The second return is false
// when the name does not conform to the grammar; Parse never fails
// harder than that, so legacy or hand-copied files stay listable.
func Parse(name string) (Identity, bool) {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return Identity{}, false
	}
	stem := strings.TrimSuffix(name, ext)

	var flags []string
	if i := strings.IndexByte(stem, '['); i >= 0 {
		var ok bool
		flags, ok = parseFlagRun(stem[i:])
		if !ok {
			return Identity{}, false
		}
		stem = stem[:i]
	}

	parts := strings.Split(stem, "_")
	if len(parts) != 4 && len(parts) != 5 {
		return Identity{}, false
	}

	when, err := time.ParseInLocation(stampLayout, parts[0]+"_"+parts[1], time.Local)
	if err != nil || len(parts[1]) != 4 {
		return Identity{}, false
	}

	p1, p2, found := strings.Cut(parts[2], matchupSep)
	if !found || p1 == "" || p2 == "" {
		return Identity{}, false
	}

	frame, ok := parseNumbered(parts[3], "Frame")
	if !ok || frame < 1 {
		return Identity{}, false
	}

	segment := 1
	if len(parts) == 5 {
		segment, ok = parseNumbered(parts[4], "pt")
		if !ok || segment < 2 {
			return Identity{}, false
		}
	}

	return Identity{
		When:    when,
		Player1: p1,
		Player2: p2,
		Frame:   frame,
		Segment: segment,
		Flags:   flags,
		Ext:     ext,
	}, true
}

// Degraded builds the identity used for a file whose name does not
// conform: unknown players, frame zero, no flags, timestamp taken from
// the file's modification time so the file still sorts into listings.
func Degraded(name string, modTime time.Time) Identity {
	return Identity{
		When:    modTime.Truncate(time.Minute),
		Player1: UnknownPlayer,
		Player2: UnknownPlayer,
		Segment: 1,
		Ext:     filepath.Ext(name),
	}
}

// NormalizeFlags sorts and deduplicates flags, rejecting any token
// outside AllowedFlags. The returned slice is always a fresh copy.
func NormalizeFlags(flags []string) ([]string, error) {
	for _, f := range flags {
		if _, ok := allowedFlagSet[f]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFlag, f)
		}
	}
	return sortFlags(flags), nil
}

// SessionDir returns the year/month directory a session's recordings
// live under, e.g. "2025/08".
func SessionDir(t time.Time) string {
	return t.Format("2006/01")
}

// Filename builds a first-segment filename for a frame recorded at the
// given time. Player names are sanitized to fit the grammar.
func Filename(at time.Time, player1, player2 string, frame int) string {
	return Encode(Identity{
		When:    at,
		Player1: SanitizeName(player1),
		Player2: SanitizeName(player2),
		Frame:   frame,
		Segment: 1,
		Ext:     DefaultExt,
	})
}

// SegmentFilename is Filename with an explicit continuation segment.
func SegmentFilename(at time.Time, player1, player2 string, frame, segment int) string {
	return Encode(Identity{
		When:    at,
		Player1: SanitizeName(player1),
		Player2: SanitizeName(player2),
		Frame:   frame,
		Segment: segment,
		Ext:     DefaultExt,
	})
}

// SanitizeName rewrites an arbitrary player name into one the grammar
// accepts: separator characters become hyphens, the literal "-vs-" is
// broken up, and an empty result falls back to UnknownPlayer.
func SanitizeName(name string) string {
	repl := strings.NewReplacer(
		" ", "-",
		"_", "-",
		"[", "-",
		"]", "-",
		"/", "-",
		"\\", "-",
	)
	name = repl.Replace(name)
	for strings.Contains(name, matchupSep) {
		name = strings.ReplaceAll(name, matchupSep, "-v-")
	}
	name = strings.Trim(name, "-")
	if name == "" {
		return UnknownPlayer
	}
	return name
}

// parseNumbered parses "<prefix><digits>" into its integer, e.g.
// "Frame012" or "pt3".
func parseNumbered(s, prefix string) (int, bool) {
	digits, found := strings.CutPrefix(s, prefix)
	if !found || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseFlagRun parses "[a][b]..." into a sorted, deduplicated set drawn
// from AllowedFlags. Any malformed bracket or unknown token makes the
// whole name non-conforming.
func parseFlagRun(run string) ([]string, bool) {
	var flags []string
	for run != "" {
		if run[0] != '[' {
			return nil, false
		}
		end := strings.IndexByte(run, ']')
		if end < 2 {
			return nil, false
		}
		token := run[1:end]
		if _, ok := allowedFlagSet[token]; !ok {
			return nil, false
		}
		flags = append(flags, token)
		run = run[end+1:]
	}
	return sortFlags(flags), true
}

// sortFlags returns a sorted, deduplicated copy of flags.
func sortFlags(flags []string) []string {
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, 0, len(flags))
	seen := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

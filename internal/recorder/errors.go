package recorder

import "errors"

var (
	// ErrRecordingActive is returned by Start and Resume while the
	// active pointer is set.
	ErrRecordingActive = errors.New("a recording is already active")

	// ErrBusy is returned when another recording-control operation is
	// holding the device lock past the bounded wait.
	ErrBusy = errors.New("another recording operation is in progress")

	// ErrPathEscape is returned for a client path that resolves outside
	// the recordings base directory.
	ErrPathEscape = errors.New("path escapes the recordings directory")

	// ErrNotVideo is returned for a streaming request on a file that is
	// not a known video container.
	ErrNotVideo = errors.New("not a video file")

	// ErrBadFilename is returned by flag edits on a file whose name
	// does not conform to the recording grammar.
	ErrBadFilename = errors.New("filename does not conform to the recording grammar")

	// ErrInvalidRequest is wrapped around missing or malformed request
	// fields.
	ErrInvalidRequest = errors.New("invalid request")
)

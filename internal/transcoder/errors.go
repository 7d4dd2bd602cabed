package transcoder

import "fmt"

// ProbeError reports an unreadable or unusable source file.
type ProbeError struct {
	Path    string
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("probe %s: %s", e.Path, e.Message)
}

func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// EngineFailure reports an abnormal ffmpeg exit. Message holds the last
// meaningful line ffmpeg wrote to stderr when one was available.
type EngineFailure struct {
	Message  string
	ExitCode int
	Err      error
}

func (e *EngineFailure) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("ffmpeg failed: %s", e.Message)
	}
	return fmt.Sprintf("ffmpeg failed: %v", e.Err)
}

func (e *EngineFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

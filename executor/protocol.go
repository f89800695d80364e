package executor

import (
	"strings"
)

// The interpreter talks to the host by writing \x00-delimited markers to
// stderr. Everything between markers is ordinary stderr output.
//
//	\x00PYHOST_READY\x00            command loop started
//	\x00PYHOST_DONE\x00             exec finished
//	\x00PYHOST_ERROR:<traceback>\x00 exec or call raised
//	\x00PYHOST_RESULT:<json>\x00    call or has finished
//	\x00PYHOST:<json>\x00           host function call
//	\x00PYHOST_FLUSH:<n>\x00        run the n queued async calls
//
// The host answers host function calls with one JSON line on stdin, and sends
// commands the same way.
const (
	protocolPrefix       = "\x00PYHOST:"
	protocolFlushPrefix  = "\x00PYHOST_FLUSH:"
	protocolReadyPrefix  = "\x00PYHOST_READY"
	protocolDonePrefix   = "\x00PYHOST_DONE"
	protocolErrorPrefix  = "\x00PYHOST_ERROR:"
	protocolResultPrefix = "\x00PYHOST_RESULT:"
	protocolSuffix       = "\x00"
)

type messageType int

const (
	messageNone messageType = iota
	messageCall
	messageFlush
	messageReady
	messageDone
	messageError
	messageResult
)

var messagePrefixes = []struct {
	typ    messageType
	prefix string
}{
	{messageCall, protocolPrefix},
	{messageFlush, protocolFlushPrefix},
	{messageReady, protocolReadyPrefix},
	{messageDone, protocolDonePrefix},
	{messageError, protocolErrorPrefix},
	{messageResult, protocolResultPrefix},
}

func (t messageType) prefix() string {
	for _, p := range messagePrefixes {
		if p.typ == t {
			return p.prefix
		}
	}
	return ""
}

// findNextMessage returns the position and kind of the earliest marker in
// content, or -1 and messageNone when there is none.
func findNextMessage(content string) (int, messageType) {
	best, bestType := -1, messageNone
	for _, p := range messagePrefixes {
		idx := strings.Index(content, p.prefix)
		if idx == -1 {
			continue
		}
		if best == -1 || idx < best {
			best, bestType = idx, p.typ
		}
	}
	return best, bestType
}

// extractMessage splits the marker starting at idx into its payload and the
// text after it. ok is false while the terminating \x00 has not arrived; in
// that case remaining is the unfinished marker.
func extractMessage(content string, idx int, prefix string) (payload, remaining string, ok bool) {
	start := idx + len(prefix)
	end := strings.Index(content[start:], protocolSuffix)
	if end == -1 {
		return "", content[idx:], false
	}
	return content[start : start+end], content[start+end+len(protocolSuffix):], true
}

type callRequest struct {
	ID   string         `json:"id,omitempty"`
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// command is one line sent to the interpreter's command loop.
type command struct {
	Type   string         `json:"type"`
	Code   string         `json:"code,omitempty"`
	Target string         `json:"target,omitempty"`
	Fn     string         `json:"fn,omitempty"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

const (
	commandExec = "exec"
	commandCall = "call"
	commandHas  = "has"
	commandExit = "exit"
)

// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionStuck is reported by operations on a session whose gnuplot
// process previously failed to acknowledge a sync point. Such a process may
// still be consuming its input stream in an unknown parse state, so no
// further commands are sent to it.
var ErrSessionStuck = errors.New("session is stuck: a previous command timed out")

// A CommandError reports that gnuplot rejected a command. Message is the
// diagnostic text gnuplot printed, with warnings and known benign noise
// already separated out.
type CommandError struct {
	Cmd      string   // the command that failed, "" if not attributable
	Message  string   // gnuplot's error text
	Warnings []string // warnings that accompanied the error
}

func (e *CommandError) Error() string {
	if e.Cmd == "" {
		return "gnuplot: " + e.Message
	}
	return fmt.Sprintf("gnuplot: command %q: %s", e.Cmd, e.Message)
}

// A HangError reports that gnuplot did not acknowledge a sync point within
// the session timeout. The session that reported it is stuck and will refuse
// further commands.
type HangError struct {
	Token   string // the sync token that went unacknowledged
	Timeout time.Duration
}

func (e *HangError) Error() string {
	return fmt.Sprintf("gnuplot did not respond to sync %q within %v; giving up on this session", e.Token, e.Timeout)
}

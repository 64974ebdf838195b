// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkogan/gnuplotlib/classify"
)

// ckMode selects the behavior of one sync point.
type ckMode uint8

const (
	// ckReportWarnings delivers accumulated warnings to the session's
	// warning callback instead of only returning them.
	ckReportWarnings ckMode = 1 << iota

	// ckIgnoreTestFailures strips the known benign artifacts of a
	// dumb-terminal dry run before classification.
	ckIgnoreTestFailures

	// ckWaitForever disables the timeout. Used while an interactive plot
	// window is open and the process legitimately stays silent.
	ckWaitForever
)

// sync writes a sync point into the command stream and consumes the
// diagnostic stream until gnuplot echoes it back. Whatever the process
// printed before the echo is classified and returned; reaching the echo
// proves the process has executed everything sent so far.
//
// If the echo does not arrive within the session timeout the process is in
// an unknown state, most likely interpreting its input as data rather than
// commands. The session is then marked stuck: every later operation fails
// with ErrSessionStuck, and only Close is useful.
//
// On a session without a diagnostic backchannel (script generation) sync
// does nothing.
func (s *Session) sync(mode ckMode) (classify.Result, error) {
	if s.diag == nil {
		return classify.Result{}, nil
	}
	if s.stuck {
		return classify.Result{}, ErrSessionStuck
	}

	token := fmt.Sprintf("gpsync%dxxx", s.syncCount)
	s.syncCount++
	if err := s.writeLine(`print "` + token + `"`); err != nil {
		return classify.Result{}, err
	}

	raw, err := s.readUntil(token, mode&ckWaitForever != 0)
	if err != nil {
		return classify.Result{}, err
	}

	res := s.cfg.table().Classify(raw, mode&ckIgnoreTestFailures != 0)
	if mode&ckReportWarnings != 0 {
		for _, w := range res.Warnings {
			s.cfg.warn(w)
		}
	}
	rootMetrics.syncsOK.Add(1)
	return res, nil
}

// readUntil consumes diagnostic chunks until the token appears, and returns
// the text that preceded it. Text after the token (at least the newline of
// its own echo) is kept for the next sync. The timeout bounds the silence
// between chunks, not the total wait.
func (s *Session) readUntil(token string, waitForever bool) (string, error) {
	var timeout <-chan time.Time
	var timer *time.Timer
	if !waitForever {
		timer = time.NewTimer(s.cfg.timeout())
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if i := strings.Index(s.pending, token); i >= 0 {
			raw := s.pending[:i]
			s.pending = s.pending[i+len(token):]
			return raw, nil
		}

		select {
		case chunk, ok := <-s.diag:
			if !ok {
				s.stuck = true
				return "", fmt.Errorf("gnuplot closed its diagnostic stream before sync %q: %w",
					token, ErrSessionStuck)
			}
			s.pending += chunk
			if timer != nil {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(s.cfg.timeout())
			}
		case <-timeout:
			s.stuck = true
			rootMetrics.syncsHung.Add(1)
			return "", &HangError{Token: token, Timeout: s.cfg.timeout()}
		}
	}
}

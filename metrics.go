// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib

import "expvar"

// plotMetrics record process-wide plotting activity counters.
type plotMetrics struct {
	sessionsStarted expvar.Int
	commandsSent    expvar.Int
	syncsOK         expvar.Int // sync points acknowledged in time
	syncsHung       expvar.Int // sync points that timed out
	plotsTested     expvar.Int // plot commands dry-run against the dumb terminal
	plotsCommitted  expvar.Int // plot commands executed for real
	dataBytes       expvar.Int // curve data bytes written, test payloads included

	emap *expvar.Map
}

var rootMetrics = newPlotMetrics()

func newPlotMetrics() *plotMetrics {
	pm := &plotMetrics{emap: new(expvar.Map)}
	pm.emap.Set("sessions_started", &pm.sessionsStarted)
	pm.emap.Set("commands_sent", &pm.commandsSent)
	pm.emap.Set("syncs_ok", &pm.syncsOK)
	pm.emap.Set("syncs_hung", &pm.syncsHung)
	pm.emap.Set("plots_tested", &pm.plotsTested)
	pm.emap.Set("plots_committed", &pm.plotsCommitted)
	pm.emap.Set("data_bytes", &pm.dataBytes)
	return pm
}

// Metrics returns a map of plotting activity metrics shared by all sessions
// in the process. The caller is responsible for publishing it to an expvar
// exporter if desired.
func Metrics() *expvar.Map { return rootMetrics.emap }

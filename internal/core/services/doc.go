// Package services holds the monitoring engine: the Differ, the six source
// checks and the Runner that executes them, the AlertEngine, the Monitor
// that ties one cycle together, and the Scheduler.
//
// Within a cycle each target is fetched with one GET shared by every check,
// and its baseline snapshot is read once before anything is written. The
// content check is the only snapshot writer, so checks running in parallel
// never see each other's writes.
package services

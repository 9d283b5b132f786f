// Package logs tails relayd log files for the CLI.
//
// It reads the last lines with bounded memory, follows appends by polling, and
// restarts from the top when the file is truncated or the current-log pointer
// moves to a new run. Lines can be filtered on the structured fields relayd
// writes (session, segment, component, level) for both the JSON and console
// formats.
package logs

// Package exitcodes defines the standard exit codes used by sync-acceptor.
package exitcodes

// Exit code constants used by sync-acceptor
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every lane of every executed tier passes
// * LaneFailure (1): Used when one or more lanes fail or the pipeline halts
// * RuntimeErr (2): Used for runtime errors such as bad configuration or panics
const (
	Success     = 0
	LaneFailure = 1
	RuntimeErr  = 2
)

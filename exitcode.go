package main

const (
	exitHostUp   = 0
	exitHostDown = 1
	exitError    = 2
)

func verdictExitCode(up bool) int {
	if up {
		return exitHostUp
	}
	return exitHostDown
}

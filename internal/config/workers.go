package config

import "runtime"

// defaultWorkers is one worker per core, capped at four.
func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

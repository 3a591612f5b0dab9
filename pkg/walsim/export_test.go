package walsim

// SetOsExit replaces the exit function used by [FatalExit] and returns a
// restore function. Tests using it must not run in parallel.
func SetOsExit(fn func(int)) (restore func()) {
	prev := osExit
	osExit = fn

	return func() { osExit = prev }
}

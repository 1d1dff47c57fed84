//go:build !linux && !windows

package network

// setReuseAddr is a no-op where the option is not handled specially.
func setReuseAddr(fd uintptr) error { return nil }

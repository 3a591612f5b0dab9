//go:build linux

package sysio

import "golang.org/x/sys/unix"

func fdatasync(fd int) error {
	return unix.Fdatasync(fd)
}

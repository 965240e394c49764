//go:build !linux

package transport

import (
	"syscall"
	"time"
)

func socketControl(time.Duration) func(network, address string, c syscall.RawConn) error {
	return nil
}

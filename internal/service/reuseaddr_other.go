//go:build !unix

package service

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}

//go:build unix

package tmuxctl

import "syscall"

func syscallExec(path string, argv, envv []string) error {
	return syscall.Exec(path, argv, envv)
}

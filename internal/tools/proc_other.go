//go:build !windows
// +build !windows

package tools

import "os/exec"

// hideWindow is a no-op outside Windows
func hideWindow(cmd *exec.Cmd) {}

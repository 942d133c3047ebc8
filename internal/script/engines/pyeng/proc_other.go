//go:build !unix

package pyeng

import (
	"os"
	"os/exec"
)

func isolate(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}

func maxRSSMB(*os.ProcessState) *float64 {
	return nil
}

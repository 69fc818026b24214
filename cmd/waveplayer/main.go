// Command waveplayer is the headless entry point over the real-time
// audio pipeline: it queues files or Ampache server URLs and drives
// them through internal/controller, reporting position and peak
// levels as structured log lines (the GUI is explicitly out of scope).
package main

import (
	"fmt"
	"os"

	"github.com/wk-j/waveplayer/cmd/waveplayer/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

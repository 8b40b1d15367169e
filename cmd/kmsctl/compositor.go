package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/function61/gokit/log/logex"

	"kmsbackend/drm"
)

// logCompositor stands in for a compositor: it logs what the backend tells
// it and runs the change hook once the outputs settled.
type logCompositor struct {
	backend  *drm.Backend
	onChange string
	lid      *lidSwitch
	log      *logex.Leveled
}

func (c *logCompositor) OutputAdded(o *drm.Output) {
	c.log.Info.Printf("output added: %s %s at %v (uuid %s, monitor %q)", o.Name(), o.Mode(), o.Geometry(), o.UUID(), o.Monitor())
}

func (c *logCompositor) OutputRemoved(o *drm.Output) {
	c.log.Info.Printf("output removed: %s", o.Name())
}

func (c *logCompositor) OutputsQueried() {
	// the nested OutputsQueried of the lid switch already reported
	if c.lid != nil && c.lid.reapply() {
		return
	}

	var names []string
	for _, o := range c.backend.EnabledOutputs() {
		names = append(names, o.Name())
	}
	c.log.Info.Printf("outputs: %s", strings.Join(names, " "))

	c.executeBackgroundCommand(names)
}

func (c *logCompositor) SwapAboutToBegin() {
	c.log.Debug.Println("swap about to begin")
}

func (c *logCompositor) SwapComplete() {
	c.log.Debug.Println("swap complete")
}

func (c *logCompositor) RepaintFull() {
	c.log.Debug.Println("full repaint requested")
}

func (c *logCompositor) OutputsEnabledChanged(enabled bool) {
	c.log.Info.Printf("outputs enabled: %v", enabled)
}

func (c *logCompositor) SoftwareCursorChanged(software bool) {
	c.log.Info.Printf("software cursor: %v", software)
}

// executeBackgroundCommand runs the change hook without waiting for it. The
// enabled outputs are passed in KMS_OUTPUTS.
func (c *logCompositor) executeBackgroundCommand(outputs []string) {
	cmdline := c.onChange
	if cmdline == "" {
		return
	}

	c.log.Info.Printf("executing command: %s", cmdline)
	cmd := exec.Command("sh", "-c", cmdline)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "KMS_OUTPUTS="+strings.Join(outputs, " "))
	if err := cmd.Start(); err != nil {
		c.log.Error.Printf("command error: %v", err)
		return
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			c.log.Error.Printf("command error: %v", err)
		}
	}()
}

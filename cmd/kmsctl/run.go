package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/function61/gokit/log/logex"
	"github.com/function61/gokit/os/osutil"
	"github.com/function61/gokit/sync/taskrunner"
	"github.com/spf13/cobra"

	"kmsbackend/drm"
	"kmsbackend/logind"
	"kmsbackend/store"
	"kmsbackend/udev"
)

type runOptions struct {
	device   string
	wait     time.Duration
	onChange string
	lid      bool
	direct   bool
}

func runEntry() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the outputs of the GPU until interrupted",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rootLogger := logex.StandardLogger()

			osutil.ExitIfError(run(
				osutil.CancelOnInterruptOrTerminate(rootLogger),
				opts,
				rootLogger))
		},
	}

	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Device node (default: primary GPU)")
	cmd.Flags().DurationVarP(&opts.wait, "wait", "w", 0, "Time to wait before taking over the outputs (overrides wait of the outputs file)")
	cmd.Flags().StringVarP(&opts.onChange, "on-change", "", "", "Shell command to run when the outputs change (overrides on_change of the outputs file)")
	cmd.Flags().BoolVarP(&opts.lid, "lid", "", false, "Turn internal panels off while the laptop lid is closed")
	cmd.Flags().BoolVarP(&opts.direct, "direct", "", false, "Open the device directly instead of through logind")

	return cmd
}

func run(ctx context.Context, ro runOptions, logger *log.Logger) error {
	logl := logex.Levels(logex.Prefix("kmsctl", logger))

	opts, err := drm.LoadOptions()
	if err != nil {
		return err
	}

	dev, err := resolveDevice(ro.device)
	if err != nil {
		return err
	}
	opts.DeviceNode = dev.DevNode
	opts.SysNum = dev.SysNum
	logl.Info.Printf("using %s", dev.DevNode)

	if ro.lid && ro.direct {
		return errors.New("--lid needs logind")
	}

	outputsFile, err := store.Open(outputsConfigPath(opts))
	if err != nil {
		return err
	}

	wait, err := waitDuration(ro.wait, outputsFile.Config().Wait)
	if err != nil {
		return err
	}
	if wait > 0 {
		logl.Info.Printf("waiting %s before starting", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}

	var session *logind.Session
	var devices drm.DeviceAcquirer
	if ro.direct {
		devices = logind.NewDirect(logger)
	} else {
		session, err = logind.Open(logger)
		if err != nil {
			return err
		}
		defer session.Close()

		if err := session.TakeControl(); err != nil {
			return err
		}
		defer func() {
			if err := session.ReleaseControl(); err != nil {
				logl.Error.Printf("ReleaseControl: %v", err)
			}
		}()
		devices = session
	}

	comp := &logCompositor{
		onChange: firstNonEmpty(ro.onChange, outputsFile.Config().OnChange),
		log:      logex.Levels(logex.Prefix("compositor", logger)),
	}

	backend := drm.New(drm.Config{
		Options:    opts,
		Devices:    devices,
		Compositor: comp,
		Store:      outputsFile,
		Logger:     logger,
	})
	comp.backend = backend

	if err := backend.Start(); err != nil {
		return err
	}
	defer backend.Shutdown()

	for _, line := range strings.Split(strings.TrimSpace(backend.SupportInformation()), "\n") {
		logl.Debug.Println(line)
	}

	lidClosed := false
	if ro.lid {
		if lidClosed, err = session.LidIsClosed(); err != nil {
			return err
		}
	}

	monitor, err := udev.NewMonitor("drm", logger)
	if err != nil {
		return err
	}

	hotplug := make(chan udev.Event, 4)
	active := make(chan bool, 1)

	tasks := taskrunner.New(ctx, logger)

	tasks.Start("udev", func(ctx context.Context) error {
		return monitor.Run(ctx, hotplug)
	})

	if session != nil {
		session.DeviceGone = func(major, minor uint32) {
			backend.Post(backend.DeviceRevoked)
		}

		tasks.Start("logind", func(ctx context.Context) error {
			return session.Run(ctx, active)
		})
	}

	if ro.lid {
		lid := &lidSwitch{backend: backend, store: outputsFile, log: logl}
		comp.lid = lid
		backend.Post(func() { lid.apply(lidClosed) })

		lidEvents := make(chan bool, 1)
		tasks.Start("lid-watch", func(ctx context.Context) error {
			return session.WatchLid(ctx, lidEvents)
		})
		tasks.Start("lid", func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case closed := <-lidEvents:
					backend.Post(func() { lid.apply(closed) })
				}
			}
		})
	}

	tasks.Start("backend", func(ctx context.Context) error {
		return backend.Run(ctx, hotplug, active)
	})

	return tasks.Wait()
}

func outputsConfigPath(opts drm.Options) string {
	if opts.OutputsConfig != "" {
		return opts.OutputsConfig
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "kmsctl", "outputs.yaml")
}

// waitDuration prefers the --wait flag over the wait key of the outputs file.
func waitDuration(flag time.Duration, conf string) (time.Duration, error) {
	if flag > 0 || conf == "" {
		return flag, nil
	}
	wait, err := time.ParseDuration(conf)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %s: %w", conf, err)
	}
	return wait, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// lidSwitch turns outputs off while the lid is closed: internal panels, and
// whatever the outputs file marks with disable_on_lid_close.
type lidSwitch struct {
	backend *drm.Backend
	store   *store.File
	log     *logex.Leveled
	closed  bool
}

// apply enables or disables the affected outputs and reports whether that
// changed anything.
func (l *lidSwitch) apply(closed bool) bool {
	l.closed = closed

	outputs := l.backend.Outputs()
	enabled := l.backend.EnabledOutputs()

	uuids := make([]string, 0, len(outputs))
	for _, o := range outputs {
		uuids = append(uuids, o.UUID())
	}
	key := drm.ConfigurationKey(uuids)

	changed := false
	for _, o := range outputs {
		if !internalPanel(o.Name()) && !l.store.DisableOnLidClose(key, o.UUID()) {
			continue
		}
		if contains(enabled, o) != closed {
			continue
		}
		if closed {
			l.log.Info.Printf("disabling %s because lid is closed", o.Name())
		} else {
			l.log.Info.Printf("enabling %s because lid is open", o.Name())
		}
		l.backend.EnableOutput(o, !closed)
		changed = true
	}
	return changed
}

// reapply keeps outputs off that a reconciliation turned back on.
func (l *lidSwitch) reapply() bool {
	if !l.closed {
		return false
	}
	return l.apply(true)
}

func contains(outputs []*drm.Output, o *drm.Output) bool {
	for _, candidate := range outputs {
		if candidate == o {
			return true
		}
	}
	return false
}

func internalPanel(connector string) bool {
	for _, prefix := range []string{"eDP-", "LVDS-", "DSI-"} {
		if strings.HasPrefix(connector, prefix) {
			return true
		}
	}
	return false
}

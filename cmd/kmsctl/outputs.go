package main

import (
	"fmt"
	"io"
	"os"

	"github.com/function61/gokit/os/osutil"
	"github.com/spf13/cobra"

	"kmsbackend/drm"
	"kmsbackend/kms"
	"kmsbackend/udev"
)

func outputsEntry() *cobra.Command {
	var device string

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List the connectors, CRTCs and planes of the GPU",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				node, err := resolveDevice(device)
				if err != nil {
					return err
				}

				card, err := kms.Open(node.DevNode)
				if err != nil {
					return err
				}
				defer card.Close()

				return showOutputs(os.Stdout, card)
			}())
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "Device node, e.g. /dev/dri/card1 (default: primary GPU)")

	return cmd
}

// resolveDevice picks the device node: the flag, then KMS_DEVICE_NODE, then
// the primary GPU.
func resolveDevice(flag string) (udev.Device, error) {
	node := flag
	if node == "" {
		opts, err := drm.LoadOptions()
		if err != nil {
			return udev.Device{}, err
		}
		node = opts.DeviceNode
	}

	if node == "" {
		return udev.DefaultSysfs.PrimaryGPU()
	}

	dev, err := udev.DefaultSysfs.DeviceForNode(node)
	if err != nil {
		// not in sysfs, e.g. a symlink under /dev/dri/by-path
		return udev.Device{DevNode: node, SysNum: -1}, nil
	}
	return dev, nil
}

// bestMode prefers the mode the driver marked as preferred.
func bestMode(modes []kms.ModeInfo) (kms.ModeInfo, bool) {
	for _, m := range modes {
		if m.Preferred() {
			return m, true
		}
	}
	if len(modes) > 0 {
		return modes[0], true
	}
	return kms.ModeInfo{}, false
}

func showOutputs(w io.Writer, card *kms.Card) error {
	res, err := card.Resources()
	if err != nil {
		return err
	}

	// connector to CRTC routing as the kernel currently has it
	crtcOf := map[uint32]uint32{}
	for _, id := range res.Connectors {
		con, err := card.Connector(id)
		if err != nil {
			return err
		}
		if con.EncoderID == 0 {
			continue
		}
		if enc, err := card.Encoder(con.EncoderID); err == nil {
			crtcOf[id] = enc.CrtcID
		}
	}

	fmt.Fprintf(w, "Outputs:\n")

	for _, id := range res.Connectors {
		con, err := card.Connector(id)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "  [%d] %s: CRTC=%d", id, con.Name(), crtcOf[id])
		if con.Connection == kms.Connected {
			fmt.Fprintf(w, " connected")
		} else {
			fmt.Fprintf(w, " disconnected")
		}
		if mode, ok := bestMode(con.Modes); ok {
			fmt.Fprintf(w, ", best mode: %s@%.2f", mode, float64(mode.RefreshRate())/1000)
		}
		if con.MmWidth > 0 {
			fmt.Fprintf(w, ", %dx%dmm", con.MmWidth, con.MmHeight)
		}
		if ident := connectorMonitor(card, con); ident != "" {
			fmt.Fprintf(w, ", Monitor=%s", ident)
		}

		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "CRTCs:\n")

	for i, id := range res.Crtcs {
		crtc, err := card.Crtc(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  [%d] index=%d gamma=%d", id, i, crtc.GammaSize)
		if crtc.ModeValid {
			fmt.Fprintf(w, ", current mode: %s, position: %d+%d, fb=%d", crtc.Mode, crtc.X, crtc.Y, crtc.FbID)
		}
		fmt.Fprintf(w, "\n")
	}

	// all planes are only listed to atomic clients
	if err := card.SetClientCap(kms.ClientCapAtomic, 1); err != nil {
		fmt.Fprintf(w, "Planes: atomic mode setting unavailable: %v\n", err)
		return nil
	}

	planes, err := card.PlaneResources()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Planes:\n")

	for _, id := range planes {
		plane, err := card.Plane(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  [%d] %s: possible CRTCs=%#b, CRTC=%d, formats=%d\n",
			id, planeType(card, id), plane.PossibleCrtcs, plane.CrtcID, len(plane.Formats))
	}

	return nil
}

func connectorMonitor(card *kms.Card, con *kms.Connector) string {
	for i, pid := range con.Props {
		prop, err := card.Property(pid)
		if err != nil || prop.Name != "EDID" || con.PropValues[i] == 0 {
			continue
		}
		blob, err := card.Blob(uint32(con.PropValues[i]))
		if err != nil {
			return ""
		}
		return drm.MonitorIdentity(blob)
	}
	return ""
}

func planeType(card *kms.Card, id uint32) string {
	ids, values, err := card.ObjectProperties(id, kms.ObjectPlane)
	if err != nil {
		return "unknown"
	}
	for i, pid := range ids {
		prop, err := card.Property(pid)
		if err != nil || prop.Name != "type" {
			continue
		}
		return drm.PlaneType(values[i]).String()
	}
	return "unknown"
}

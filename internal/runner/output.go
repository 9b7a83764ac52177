package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/projectdiscovery/netwarden/pkg/types"
)

// FormatRate renders bits per second with a decimal unit
func FormatRate(bps uint64) string {
	units := []string{"bit/s", "kbit/s", "Mbit/s", "Gbit/s"}
	value := float64(bps)
	unit := 0
	for value >= 1000 && unit < len(units)-1 {
		value /= 1000
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", bps, units[0])
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}

func writeDevicesJSON(w io.Writer, devices []types.Device) error {
	encoder := json.NewEncoder(w)
	for i := range devices {
		if err := encoder.Encode(devices[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeDeviceTable(w io.Writer, devices []types.Device) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tMAC\tNAME\tVENDOR\tTYPE\tSTATUS\tCONTROL\tDOWN\tUP\tLIMIT")
	for i := range devices {
		device := &devices[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			device.IP,
			device.MAC,
			orDash(device.DisplayName()),
			orDash(device.Vendor),
			orDash(device.DeviceType),
			statusLabel(device),
			controlLabel(device),
			FormatRate(device.CurrentSpeed.Download),
			FormatRate(device.CurrentSpeed.Upload),
			limitLabel(device),
		)
	}
	return tw.Flush()
}

func writeInterfaceTable(w io.Writer, ifaces []types.Interface) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIP\tMAC\tNETWORK\tSTATE\tWIFI")
	for _, iface := range ifaces {
		network := "-"
		if iface.Network != nil {
			network = iface.Network.String()
		}
		state := au.Green("up").String()
		if !iface.Up {
			state = au.Gray(12, "down").String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", iface.Name, iface.IP, orDash(iface.MAC), network, state, wirelessLabel(iface.Wireless))
	}
	return tw.Flush()
}

func wirelessLabel(w *types.Wireless) string {
	switch {
	case w == nil:
		return "-"
	case w.SSID == "":
		return "not associated"
	default:
		return fmt.Sprintf("%s (%d%%)", w.SSID, w.Signal)
	}
}

func statusLabel(device *types.Device) string {
	if device.Status == types.StatusActive {
		return au.Green(device.Status.String()).String()
	}
	return au.Gray(12, device.Status.String()).String()
}

func controlLabel(device *types.Device) string {
	var labels []string
	if device.AttackStatus == types.AttackCutting {
		labels = append(labels, au.Red("cut").Bold().String())
	}
	if device.IsProtected {
		labels = append(labels, au.Cyan("protected").String())
	}
	if len(labels) == 0 {
		return "-"
	}
	return strings.Join(labels, ",")
}

func limitLabel(device *types.Device) string {
	if device.SpeedLimit == nil {
		return "-"
	}
	label := FormatRate(*device.SpeedLimit)
	if device.LimitMode == types.LimitSoftware {
		label += " (sw)"
	}
	return au.Yellow(label).String()
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

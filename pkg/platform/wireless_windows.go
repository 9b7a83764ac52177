//go:build windows

package platform

import (
	"os/exec"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

func wirelessInfo(names []string) map[string]*types.Wireless {
	output, err := exec.Command("netsh", "wlan", "show", "interfaces").Output()
	if err != nil {
		gologger.Debug().Msgf("could not read wlan interfaces: %s", err)
		return nil
	}
	return ParseNetshWlan(string(output))
}

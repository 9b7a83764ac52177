//go:build linux

package platform

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// wirelessInfo reports the interfaces the kernel exposes a wireless
// directory for, with their association when iw is installed
func wirelessInfo(names []string) map[string]*types.Wireless {
	result := make(map[string]*types.Wireless)
	_, lookErr := exec.LookPath("iw")
	for _, name := range names {
		if _, err := os.Stat(filepath.Join("/sys/class/net", name, "wireless")); err != nil {
			continue
		}
		if lookErr != nil {
			result[name] = &types.Wireless{}
			continue
		}
		output, err := exec.Command("iw", "dev", name, "link").Output()
		if err != nil {
			gologger.Debug().Msgf("could not read wireless link of %s: %s", name, err)
			result[name] = &types.Wireless{}
			continue
		}
		result[name] = ParseIwLink(string(output))
	}
	return result
}

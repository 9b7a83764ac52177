//go:build !linux && !windows

package platform

import "github.com/projectdiscovery/netwarden/pkg/types"

// macOS no longer ships a command line reporting the association
func wirelessInfo(names []string) map[string]*types.Wireless {
	return nil
}

//go:build darwin

package platform

import (
	"bytes"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// the pf anchor carries the dummynet pipes and the blocked devices
var (
	anchorMu      sync.Mutex
	dummynetPipes = make(map[string]int)
	anchorBlocked = make(map[string]struct{})
)

func applyRateLimit(iface *types.Interface, ip net.IP, bps uint64) error {
	if err := requireShapingTools(ip); err != nil {
		return err
	}

	anchorMu.Lock()
	defer anchorMu.Unlock()

	pipe := dummynetPipe(ip)
	if err := run("dnctl", "pipe", strconv.Itoa(pipe), "config", "bw", fmt.Sprintf("%dbit/s", bps)); err != nil {
		return types.NewError(types.KindUnsupported, "rate limit", ip.String(), err)
	}

	pipes := copyPipes()
	pipes[ip.String()] = pipe
	if err := loadAnchor(pipes, anchorBlocked); err != nil {
		_ = run("dnctl", "pipe", "delete", strconv.Itoa(pipe))
		return types.NewError(types.KindUnsupported, "rate limit", ip.String(), err)
	}
	dummynetPipes = pipes
	gologger.Verbose().Msgf("shaping %s to %d bit/s via dummynet pipe %d on %s", ip, bps, pipe, iface.Name)
	return nil
}

func removeRateLimit(iface *types.Interface, ip net.IP) error {
	anchorMu.Lock()
	defer anchorMu.Unlock()

	pipe, ok := dummynetPipes[ip.String()]
	if !ok {
		return nil
	}
	if err := requireShapingTools(ip); err != nil {
		return err
	}

	pipes := copyPipes()
	delete(pipes, ip.String())
	if err := loadAnchor(pipes, anchorBlocked); err != nil {
		return types.NewError(types.KindUnsupported, "rate limit", ip.String(), err)
	}
	dummynetPipes = pipes
	if err := run("dnctl", "pipe", "delete", strconv.Itoa(pipe)); err != nil {
		gologger.Debug().Msgf("could not delete dummynet pipe %d on %s: %s", pipe, iface.Name, err)
	}
	return nil
}

func requireShapingTools(ip net.IP) error {
	if _, err := exec.LookPath("dnctl"); err != nil {
		return types.NewError(types.KindUnsupported, "rate limit", ip.String(), err)
	}
	return requirePfctl("rate limit", ip)
}

func requirePfctl(op string, ip net.IP) error {
	if _, err := exec.LookPath("pfctl"); err != nil {
		return types.NewError(types.KindUnsupported, op, ip.String(), err)
	}
	return nil
}

func copyPipes() map[string]int {
	pipes := make(map[string]int, len(dummynetPipes)+1)
	for k, v := range dummynetPipes {
		pipes[k] = v
	}
	return pipes
}

func loadAnchor(pipes map[string]int, blocked map[string]struct{}) error {
	// pf must be enabled for the anchor to take effect; -E is reference counted
	_ = run("pfctl", "-E")

	cmd := exec.Command("pfctl", "-a", pfAnchor, "-f", "-")
	cmd.Stdin = bytes.NewBufferString(renderAnchorRules(pipes, blocked))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pfctl: %w: %s", err, bytes.TrimSpace(output))
	}
	return nil
}

func run(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(output))
	}
	return nil
}

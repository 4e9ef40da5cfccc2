//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// sandboxNetworkPrefix namespaces the veth interface names this backend
// creates, so a leftover pair from a crashed run is easy to spot with
// `ip link show | grep skbx` and reap by hand.
const sandboxNetworkPrefix = "skbx"

// setupSandboxNetwork gives a network-enabled sandbox a private link
// back to the host instead of the shared host namespace: a veth pair,
// a /30 on each end, NAT on the host side, and an nft ruleset installed
// inside the child's namespace dropping the link-local and
// cloud-metadata ranges in blockedNetworkCIDRs — the same two ranges
// the Seatbelt backend denies via its SBPL profile on macOS. The
// returned func tears the host-side half down; the veth's namespace
// half disappears with the namespace itself.
func setupSandboxNetwork(pid int) (func(), error) {
	hostVeth := sandboxNetworkPrefix + strconv.Itoa(pid) + "h"
	nsVeth := sandboxNetworkPrefix + strconv.Itoa(pid) + "n"
	nsPath := fmt.Sprintf("/proc/%d/ns/net", pid)
	nsEnter := func(args ...string) []string {
		return append([]string{"--net=" + nsPath}, args...)
	}

	cleanup := func() {
		_ = exec.Command("ip", "link", "del", hostVeth).Run()
	}

	steps := [][]string{
		{"ip", "link", "add", hostVeth, "type", "veth", "peer", "name", nsVeth},
		{"ip", "link", "set", nsVeth, "netns", nsPath},
		{"ip", "addr", "add", "10.200.0.1/30", "dev", hostVeth},
		{"ip", "link", "set", hostVeth, "up"},
		append([]string{"nsenter"}, nsEnter("ip", "addr", "add", "10.200.0.2/30", "dev", nsVeth)...),
		append([]string{"nsenter"}, nsEnter("ip", "link", "set", nsVeth, "up")...),
		append([]string{"nsenter"}, nsEnter("ip", "link", "set", "lo", "up")...),
		append([]string{"nsenter"}, nsEnter("ip", "route", "add", "default", "via", "10.200.0.1")...),
		{"iptables", "-t", "nat", "-A", "POSTROUTING", "-s", "10.200.0.2/32", "-j", "MASQUERADE"},
	}
	for _, args := range steps {
		if err := exec.Command(args[0], args[1:]...).Run(); err != nil {
			cleanup()
			return nil, fmt.Errorf("%s: %w", strings.Join(args, " "), err)
		}
	}

	if err := applyBlockedCIDRRuleset(nsPath); err != nil {
		cleanup()
		return nil, err
	}

	return cleanup, nil
}

// applyBlockedCIDRRuleset loads an nft table inside the namespace at
// nsPath that drops egress to blockedNetworkCIDRs on the output hook,
// leaving everything else this veth can reach untouched.
func applyBlockedCIDRRuleset(nsPath string) error {
	var b strings.Builder
	b.WriteString("table inet skillbox_egress {\n  chain output {\n    type filter hook output priority 0; policy accept;\n")
	for _, cidr := range blockedNetworkCIDRs {
		family := "ip"
		if strings.Contains(cidr, ":") {
			family = "ip6"
		}
		fmt.Fprintf(&b, "    %s daddr %s drop\n", family, cidr)
	}
	b.WriteString("  }\n}\n")

	tmp, err := os.CreateTemp("", "skillbox-egress-*.nft")
	if err != nil {
		return fmt.Errorf("write egress ruleset: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write egress ruleset: %w", err)
	}
	tmp.Close()

	cmd := exec.Command("nsenter", "--net="+nsPath, "nft", "-f", tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("apply egress ruleset: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Package modules registers the built-in host probes. Each probe
// registers itself with pkg/module at init() time (spec §9 "Dynamic
// module discovery without runtime reflection"); importing this
// package for side effects is how a binary opts into the standard
// probe set. Probes are deliberately shallow — the deep per-OS
// parsing lives outside the core (spec §1 "the per-OS hardware
// probes... are opaque functions returning typed records").
package modules

import (
	"net"
	"os"
	"runtime"

	"github.com/cuemby/fleetagent/pkg/module"
)

func init() {
	module.Register(module.Module{
		Name:        "hardware",
		Category:    "hardware",
		DoInventory: doHardware,
	})
	module.Register(module.Module{
		Name:        "os",
		Category:    "os",
		RunAfter:    []string{"hardware"},
		DoInventory: doOperatingSystem,
	})
	module.Register(module.Module{
		Name:        "cpu",
		Category:    "cpu",
		DoInventory: doCPU,
	})
	module.Register(module.Module{
		Name:        "network",
		Category:    "network",
		DoInventory: doNetwork,
	})
}

func doHardware(ctx *module.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		return err
	}
	ctx.Document.SetHardware(map[string]any{
		"NAME": hostname,
	})
	return nil
}

func doOperatingSystem(ctx *module.Context) error {
	ctx.Document.SetOperatingSystem(map[string]any{
		"NAME":        runtime.GOOS,
		"KERNEL_NAME": runtime.GOOS,
	})
	return nil
}

func doCPU(ctx *module.Context) error {
	ctx.Document.AddEntry("CPUS", map[string]any{
		"NAME":   runtime.GOARCH,
		"CORE":   runtime.NumCPU(),
		"THREAD": runtime.NumCPU(),
	})
	return nil
}

func doNetwork(ctx *module.Context) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		rec := map[string]any{
			"DESCRIPTION": iface.Name,
		}
		if mac := iface.HardwareAddr.String(); mac != "" {
			rec["MACADDR"] = mac
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			rec["IPADDRESS"] = addrs[0].String()
		}
		ctx.Document.AddEntry("NETWORKS", rec)
	}
	return nil
}

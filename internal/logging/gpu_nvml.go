//go:build nvml

package logging

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Built only with -tags nvml: enriches the instance's startup log line
// with the GPU name and driver version, per SPEC_FULL.md's optional J
// telemetry wiring. Best-effort: any NVML failure just yields "".
func init() {
	gpuBanner = nvmlBanner
}

func nvmlBanner() string {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return ""
	}
	defer nvml.Shutdown()

	driverVersion, _ := nvml.SystemGetDriverVersion()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS || count == 0 {
		return ""
	}
	dev, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		return ""
	}
	name, ret := dev.GetName()
	if ret != nvml.SUCCESS {
		return ""
	}
	if driverVersion == "" {
		return fmt.Sprintf("gpu=%q", name)
	}
	return fmt.Sprintf("gpu=%q driver=%q", name, driverVersion)
}

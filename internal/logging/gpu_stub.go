//go:build !nvml

package logging

// Default build: no NVML telemetry backend linked in, gpuBanner stays nil.

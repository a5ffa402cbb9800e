package logging

// gpuBanner, when non-nil, returns a one-line startup banner describing
// the active GPU; BannerLine returns "" while it is nil. See gpu_nvml.go
// (built with -tags nvml) and gpu_stub.go (the default, tag-free build).
var gpuBanner func() string

// BannerLine is called once from New to decorate the instance's first log
// line with GPU identification, when a telemetry backend is compiled in.
func BannerLine() string {
	if gpuBanner == nil {
		return ""
	}
	return gpuBanner()
}

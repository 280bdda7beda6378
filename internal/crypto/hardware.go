package crypto

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HasAESHardwareSupport checks if the CPU supports AES hardware acceleration.
// Go's AES-GCM uses it automatically when present.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES && cpu.X86.HasPCLMULQDQ
	case "arm64":
		return cpu.ARM64.HasAES && cpu.ARM64.HasPMULL
	case "s390x":
		return cpu.S390X.HasAES && cpu.S390X.HasGHASH
	default:
		return false
	}
}

// GetHardwareAccelerationInfo describes the platform and the cipher suite
// in use, for startup logs and the version command.
func GetHardwareAccelerationInfo() map[string]interface{} {
	return map[string]interface{}{
		"aes_hardware_support": HasAESHardwareSupport(),
		"architecture":         runtime.GOARCH,
		"goos":                 runtime.GOOS,
		"go_version":           runtime.Version(),
		"content_algorithm":    AlgorithmAES256GCM,
		"wrap_algorithm":       AlgorithmRSAOAEPSHA256,
	}
}

package executor

import (
	"log"
	"os"
	"strconv"
)

// Default resource limits for a single node execution
const (
	DefaultTimeoutSeconds = 5
	DefaultCPUSeconds     = 2
	DefaultMemoryMB       = 100
)

// Limits bounds one node execution. TimeoutSeconds is the wall-clock budget,
// CPUSeconds and MemoryMB are enforced on the child process itself.
type Limits struct {
	TimeoutSeconds int
	CPUSeconds     int
	MemoryMB       int
}

// DefaultLimits returns the built-in limits
func DefaultLimits() Limits {
	return Limits{
		TimeoutSeconds: DefaultTimeoutSeconds,
		CPUSeconds:     DefaultCPUSeconds,
		MemoryMB:       DefaultMemoryMB,
	}
}

// LimitsFromEnv reads limits from the environment, falling back to defaults.
// Unparseable values are logged and ignored.
func LimitsFromEnv() Limits {
	limits := DefaultLimits()
	limits.TimeoutSeconds = envInt("EXECUTOR_TIMEOUT_SECONDS", limits.TimeoutSeconds)
	limits.CPUSeconds = envInt("EXECUTOR_CPU_SECONDS", limits.CPUSeconds)
	limits.MemoryMB = envInt("EXECUTOR_MEMORY_MB", limits.MemoryMB)
	return limits
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		log.Printf("Ignoring invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return value
}

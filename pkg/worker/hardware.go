package worker

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/DrSui/code-engine/pkg/executor"
	"github.com/DrSui/code-engine/pkg/models"
)

// DetectHardware collects the facts a worker reports at registration
func DetectHardware() *models.WorkerRegistration {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker-unknown"
	}

	reg := &models.WorkerRegistration{
		Name:       hostname,
		CPUThreads: runtime.NumCPU(),
		CPUModel:   "Unknown",
		Labels: map[string]string{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		},
	}

	if counts, err := cpu.Counts(true); err == nil && counts > 0 {
		reg.CPUThreads = counts
	}
	if info, err := cpu.Info(); err == nil && len(info) > 0 && info[0].ModelName != "" {
		reg.CPUModel = info[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		reg.RAMTotalBytes = vm.Total
	}

	if path, err := exec.LookPath(executor.DefaultInterpreter); err == nil {
		reg.Interpreter = path
	}

	return reg
}

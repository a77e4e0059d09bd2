// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probes

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
)

// SampleHostMetrics reads cpu_percent, memory_percent, and disk_percent
// from the local host.
//
// CPU is approximated as the 1-minute load average relative to the CPU
// count, memory comes from /proc/meminfo, and disk is the usage of the
// filesystem holding the working directory. Linux-only; on other
// platforms the sample fails and the probe reports unknown.
func SampleHostMetrics(ctx context.Context) (map[string]float64, error) {
	if runtime.GOOS != "linux" {
		return nil, fmt.Errorf("host metrics sampling requires linux, running on %s", runtime.GOOS)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics := make(map[string]float64, 3)

	cpu, err := sampleCPUPercent()
	if err != nil {
		return nil, fmt.Errorf("sample cpu: %w", err)
	}
	metrics["cpu_percent"] = cpu

	mem, err := sampleMemoryPercent()
	if err != nil {
		return nil, fmt.Errorf("sample memory: %w", err)
	}
	metrics["memory_percent"] = mem

	disk, err := sampleDiskPercent(".")
	if err != nil {
		return nil, fmt.Errorf("sample disk: %w", err)
	}
	metrics["disk_percent"] = disk

	return metrics, nil
}

func sampleCPUPercent() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/loadavg")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse loadavg %q: %w", fields[0], err)
	}
	pct := load / float64(runtime.NumCPU()) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

func sampleMemoryPercent() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}

	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseFloat(fields[1], 64)
		case "MemAvailable:":
			available, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("MemTotal missing from /proc/meminfo")
	}
	return (total - available) / total * 100, nil
}

func sampleDiskPercent(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := float64(st.Blocks) * float64(st.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("zero-size filesystem at %s", path)
	}
	free := float64(st.Bavail) * float64(st.Bsize)
	return (total - free) / total * 100, nil
}

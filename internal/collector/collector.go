// Package collector gathers host and container measurements on the agent and
// renders them as audit payloads.
//
// A payload holds one record per line with fields separated by ";".
package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	models "github.com/Schera-ole/vmwatch/internal/model"
)

// Collector produces the payload of one audit category.
type Collector interface {
	Category() models.Category
	Collect(ctx context.Context) (string, error)
}

var fieldReplacer = strings.NewReplacer(";", "_", "\n", " ", "\r", " ")

// record joins fields into one payload line, escaping separators that would
// otherwise split it.
func record(fields ...string) string {
	for i, f := range fields {
		fields[i] = fieldReplacer.Replace(f)
	}
	return strings.Join(fields, ";")
}

func percent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

func count(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// CPU reports total and per-core utilisation since the previous call.
type CPU struct{}

func (CPU) Category() models.Category { return models.CategoryVMCPU }

func (CPU) Collect(ctx context.Context) (string, error) {
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return "", fmt.Errorf("cpu total: %w", err)
	}
	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return "", fmt.Errorf("cpu per core: %w", err)
	}

	lines := make([]string, 0, len(perCore)+1)
	if len(total) > 0 {
		lines = append(lines, record("cpu-total", percent(total[0])))
	}
	for i, p := range perCore {
		lines = append(lines, record(fmt.Sprintf("cpu%d", i), percent(p)))
	}
	return strings.Join(lines, "\n"), nil
}

// Memory reports virtual memory and, when present, swap.
type Memory struct{}

func (Memory) Category() models.Category { return models.CategoryVMMemory }

func (Memory) Collect(ctx context.Context) (string, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("virtual memory: %w", err)
	}
	lines := []string{record("memory", percent(vm.UsedPercent), count(vm.Used), count(vm.Total))}

	swap, err := mem.SwapMemoryWithContext(ctx)
	if err == nil && swap.Total > 0 {
		lines = append(lines, record("swap", percent(swap.UsedPercent), count(swap.Used), count(swap.Total)))
	}
	return strings.Join(lines, "\n"), nil
}

// Filesystem reports usage of every physical partition.
type Filesystem struct{}

func (Filesystem) Category() models.Category { return models.CategoryVMFilesystem }

func (Filesystem) Collect(ctx context.Context) (string, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return "", fmt.Errorf("partitions: %w", err)
	}
	seen := make(map[string]bool, len(partitions))
	var lines []string
	for _, p := range partitions {
		if seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		lines = append(lines, record(p.Mountpoint, percent(usage.UsedPercent), count(usage.Used), count(usage.Total)))
	}
	return strings.Join(lines, "\n"), nil
}

// Users reports logged in sessions.
type Users struct{}

func (Users) Category() models.Category { return models.CategoryVMUsers }

func (Users) Collect(ctx context.Context) (string, error) {
	sessions, err := host.UsersWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("users: %w", err)
	}
	lines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		lines = append(lines, record(s.User, s.Terminal, s.Host, strconv.Itoa(s.Started)))
	}
	return strings.Join(lines, "\n"), nil
}

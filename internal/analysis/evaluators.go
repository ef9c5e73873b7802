package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	models "github.com/Schera-ole/vmwatch/internal/model"
)

const (
	// RecordSeparator splits a payload into records.
	RecordSeparator = "\n"

	// FieldSeparator splits a record into fields.
	FieldSeparator = ";"
)

// records splits payload into records of exactly n fields. Anything else is
// skipped.
func records(payload string, n int, logger *zap.SugaredLogger) [][]string {
	var out [][]string
	for _, line := range strings.Split(payload, RecordSeparator) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, FieldSeparator)
		if len(fields) != n {
			logger.Debugw("skipping malformed record", "record", line, "fields", len(fields), "want", n)
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		out = append(out, fields)
	}
	return out
}

func parsePercent(s string) (float64, bool) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, false
	}
	return p, true
}

func parseBytes(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

// CPUEvaluator reads "name;percent" records.
type CPUEvaluator struct {
	logger *zap.SugaredLogger
}

func (e CPUEvaluator) Evaluate(payload string, _ models.Agent) []Observation {
	var obs []Observation
	for _, r := range records(payload, 2, e.logger) {
		p, ok := parsePercent(r[1])
		if !ok {
			continue
		}
		obs = append(obs, Observation{
			Percentage: p,
			Detail:     fmt.Sprintf("%s usage at %.1f%%", r[0], p),
		})
	}
	return obs
}

// MemoryEvaluator reads "name;percent;used;total" records.
type MemoryEvaluator struct {
	logger *zap.SugaredLogger
}

func (e MemoryEvaluator) Evaluate(payload string, _ models.Agent) []Observation {
	return usageObservations(payload, e.logger, "%s usage at %.1f%% (%s of %s)")
}

// FilesystemEvaluator reads "mountpoint;percent;used;total" records.
type FilesystemEvaluator struct {
	logger *zap.SugaredLogger
}

func (e FilesystemEvaluator) Evaluate(payload string, _ models.Agent) []Observation {
	return usageObservations(payload, e.logger, "%s is %.1f%% full (%s of %s)")
}

func usageObservations(payload string, logger *zap.SugaredLogger, format string) []Observation {
	var obs []Observation
	for _, r := range records(payload, 4, logger) {
		p, ok := parsePercent(r[1])
		if !ok {
			continue
		}
		used, okUsed := parseBytes(r[2])
		total, okTotal := parseBytes(r[3])
		if !okUsed || !okTotal {
			continue
		}
		obs = append(obs, Observation{
			Percentage: p,
			Detail:     fmt.Sprintf(format, r[0], p, humanize.IBytes(used), humanize.IBytes(total)),
		})
	}
	return obs
}

// DockerEvaluator reads "container;cpuPercent;memPercent" records and
// observes CPU and memory separately.
type DockerEvaluator struct {
	logger *zap.SugaredLogger
}

func (e DockerEvaluator) Evaluate(payload string, _ models.Agent) []Observation {
	var obs []Observation
	for _, r := range records(payload, 3, e.logger) {
		cpu, okCPU := parsePercent(r[1])
		mem, okMem := parsePercent(r[2])
		if !okCPU || !okMem {
			continue
		}
		obs = append(obs,
			Observation{Percentage: cpu, Detail: fmt.Sprintf("container %s CPU at %.1f%%", r[0], cpu)},
			Observation{Percentage: mem, Detail: fmt.Sprintf("container %s memory at %.1f%%", r[0], mem)},
		)
	}
	return obs
}

// UsersEvaluator reads "username;terminal;host;startedUnix" records and
// reports logins by users missing from the agent allow-list.
type UsersEvaluator struct {
	logger *zap.SugaredLogger
}

func (e UsersEvaluator) Evaluate(payload string, agent models.Agent) []Observation {
	var obs []Observation
	seen := make(map[string]bool)
	for _, r := range records(payload, 4, e.logger) {
		user, terminal, host := r[0], r[1], r[2]
		if user == "" || agent.IsAllowed(user) {
			continue
		}
		started, err := strconv.ParseInt(r[3], 10, 64)
		if err != nil {
			continue
		}
		key := user + FieldSeparator + terminal + FieldSeparator + host
		if seen[key] {
			continue
		}
		seen[key] = true

		from := host
		if from == "" {
			from = "local"
		}
		obs = append(obs, Observation{
			Intrusion: true,
			Detail: fmt.Sprintf("user %s logged in on %s from %s at %s",
				user, terminal, from, time.Unix(started, 0).UTC().Format(time.RFC3339)),
		})
	}
	return obs
}

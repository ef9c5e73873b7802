// Package analysis evaluates decrypted audit payloads against severity
// thresholds and turns the observations into alerts.
package analysis

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	models "github.com/Schera-ole/vmwatch/internal/model"
)

// Threshold lower bounds, inclusive.
const (
	LowThreshold      = 50.0
	MediumThreshold   = 75.0
	CriticalThreshold = 90.0
)

// Observation is one finding of an evaluator.
type Observation struct {
	// Percentage is the measured utilisation, ignored for intrusions
	Percentage float64

	// Detail is the human readable part of the alert message
	Detail string

	// Intrusion marks a login by a user outside the agent allow-list
	Intrusion bool
}

// Evaluator inspects the decrypted payload of one audit category.
type Evaluator interface {
	Evaluate(payload string, agent models.Agent) []Observation
}

// Result separates threshold alerts from intrusion alerts, which are
// published on their own path.
type Result struct {
	Alerts     []models.Alert
	Intrusions []models.Alert
}

// All returns every alert in the result.
func (r Result) All() []models.Alert {
	all := make([]models.Alert, 0, len(r.Alerts)+len(r.Intrusions))
	all = append(all, r.Alerts...)
	return append(all, r.Intrusions...)
}

var templates = map[models.Category]string{
	models.CategoryDockerContainerResource: "[%[3]s] Container resource alert on VM %[1]s: %[2]s",
	models.CategoryVMCPU:                   "[%[3]s] CPU alert on VM %[1]s: %[2]s",
	models.CategoryVMFilesystem:            "[%[3]s] Filesystem alert on VM %[1]s: %[2]s",
	models.CategoryVMMemory:                "[%[3]s] Memory alert on VM %[1]s: %[2]s",
	models.CategoryVMUsers:                 "[%[3]s] User activity alert on VM %[1]s: %[2]s",
	models.CategoryUnknown:                 "[%[3]s] Alert on VM %[1]s: %[2]s",
}

const intrusionTemplate = "[%[3]s] Intrusion detected on VM %[1]s: %[2]s"

// Engine dispatches audits to the evaluator of their category.
type Engine struct {
	cpu        Evaluator
	memory     Evaluator
	filesystem Evaluator
	docker     Evaluator
	users      Evaluator
	logger     *zap.SugaredLogger
}

// NewEngine creates an Engine with the built-in evaluators.
func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{
		cpu:        CPUEvaluator{logger: logger},
		memory:     MemoryEvaluator{logger: logger},
		filesystem: FilesystemEvaluator{logger: logger},
		docker:     DockerEvaluator{logger: logger},
		users:      UsersEvaluator{logger: logger},
		logger:     logger,
	}
}

func (e *Engine) evaluatorFor(category models.Category) Evaluator {
	switch category {
	case models.CategoryDockerContainerResource:
		return e.docker
	case models.CategoryVMCPU:
		return e.cpu
	case models.CategoryVMFilesystem:
		return e.filesystem
	case models.CategoryVMMemory:
		return e.memory
	case models.CategoryVMUsers:
		return e.users
	case models.CategoryUnknown:
		return nil
	}
	return nil
}

// Analyze evaluates payload, the decrypted data of audit, and builds the
// resulting alerts. Unknown categories yield an empty result.
func (e *Engine) Analyze(audit models.Audit, payload string, agent models.Agent) Result {
	var result Result
	evaluator := e.evaluatorFor(audit.Category)
	if evaluator == nil {
		e.logger.Debugw("no evaluator for category", "audit", audit.ID, "category", audit.Category)
		return result
	}

	for _, obs := range evaluator.Evaluate(payload, agent) {
		if obs.Intrusion {
			alert, ok := GenerateIntrusionAlert(audit, obs.Detail)
			if !ok {
				e.logger.Warnw("intrusion alert dropped, audit has no vm id", "audit", audit.ID, "detail", obs.Detail)
				continue
			}
			result.Intrusions = append(result.Intrusions, alert)
			continue
		}
		importance := ImportanceFor(obs.Percentage)
		if importance == models.ImportanceNone {
			continue
		}
		alert, ok := GenerateAlert(audit, importance, obs.Detail)
		if !ok {
			e.logger.Warnw("alert dropped, audit has no vm id", "audit", audit.ID, "importance", importance)
			continue
		}
		result.Alerts = append(result.Alerts, alert)
	}
	return result
}

// ImportanceFor maps a utilisation percentage onto the severity scale.
func ImportanceFor(p float64) models.Importance {
	switch {
	case p >= CriticalThreshold:
		return models.ImportanceCritical
	case p >= MediumThreshold:
		return models.ImportanceMedium
	case p >= LowThreshold:
		return models.ImportanceLow
	default:
		return models.ImportanceNone
	}
}

// GenerateAlert renders the category template for audit. It fails when the
// audit carries no vm id.
func GenerateAlert(audit models.Audit, importance models.Importance, message string) (models.Alert, bool) {
	template, ok := templates[audit.Category]
	if !ok {
		template = templates[models.CategoryUnknown]
	}
	return newAlert(audit, importance, template, message)
}

// GenerateIntrusionAlert builds a CRITICAL alert for a disallowed login.
func GenerateIntrusionAlert(audit models.Audit, message string) (models.Alert, bool) {
	return newAlert(audit, models.ImportanceCritical, intrusionTemplate, message)
}

func newAlert(audit models.Audit, importance models.Importance, template, message string) (models.Alert, bool) {
	if audit.VMID == "" {
		return models.Alert{}, false
	}
	return models.Alert{
		ID:         uuid.NewString(),
		VMID:       audit.VMID,
		AgentID:    audit.AgentID,
		Importance: importance,
		Timestamp:  audit.Timestamp,
		Message:    fmt.Sprintf(template, audit.VMID, message, importance),
	}, true
}

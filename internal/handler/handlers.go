package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Schera-ole/vmwatch/internal/auth"
	"github.com/Schera-ole/vmwatch/internal/cache"
	"github.com/Schera-ole/vmwatch/internal/config"
	middlewareinternal "github.com/Schera-ole/vmwatch/internal/middleware"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/service"
	"github.com/Schera-ole/vmwatch/internal/telemetry"
)

// rateLimitClients sizes the per-client bucket table of the authenticate endpoints.
var rateLimitClients = cache.Settings{MaximumSize: 10000, ExpireAfterAccess: 10 * time.Minute}

// Services bundles what the handlers delegate to.
type Services struct {
	Gateway  *auth.Gateway
	Audits   *service.AuditService
	Admins   *service.AdminService
	Agents   *service.AgentService
	Commands *service.CommandService
}

func Router(
	services Services,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
) chi.Router {
	router := chi.NewRouter()
	router.Use(middlewareinternal.LoggingMiddleware(logger))
	router.Use(middlewareinternal.GzipMiddleware)
	router.Use(middleware.StripSlashes)
	bounded := requestTimeout(config.RequestTimeout)
	router.With(bounded).Method(http.MethodGet, "/metrics", telemetry.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Route("/authenticate", func(r chi.Router) {
			r.Use(bounded)
			r.Use(middlewareinternal.RateLimit(config.AuthRateLimit, config.AuthBurst, rateLimitClients))
			r.Post("/jwt", func(w http.ResponseWriter, r *http.Request) {
				AuthenticateJWTHandler(w, r, services.Gateway, logger)
			})
			r.Post("/apiKey", func(w http.ResponseWriter, r *http.Request) {
				AuthenticateAPIKeyHandler(w, r, services.Gateway, logger)
			})
		})
		r.With(bounded).Get("/liveness/ping", func(w http.ResponseWriter, r *http.Request) {
			PingHandler(w, r, services.Audits, logger)
		})

		r.Group(func(r chi.Router) {
			r.Use(bounded)
			r.Use(middlewareinternal.APIKeyAuth(services.Gateway, logger))
			r.Use(middlewareinternal.GunzipRequest)
			r.Post("/write", func(w http.ResponseWriter, r *http.Request) {
				WriteHandler(w, r, services.Audits, logger)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middlewareinternal.BearerAuth(services.Gateway, logger))
			// Dispatch waits for the agent to finish the command.
			r.Post("/agents/{id}/command", func(w http.ResponseWriter, r *http.Request) {
				CommandHandler(w, r, services.Commands, logger)
			})

			timed := r.With(bounded)
			timed.Get("/audits", func(w http.ResponseWriter, r *http.Request) {
				ListAuditsHandler(w, r, services.Audits, logger)
			})
			timed.Get("/audits/{id}", func(w http.ResponseWriter, r *http.Request) {
				GetAuditHandler(w, r, services.Audits, logger)
			})
			timed.Get("/alerts", func(w http.ResponseWriter, r *http.Request) {
				ListAlertsHandler(w, r, services.Audits, logger)
			})
			timed.Get("/agents", func(w http.ResponseWriter, r *http.Request) {
				ListAgentsHandler(w, r, services.Agents, logger)
			})
			timed.Post("/agents", func(w http.ResponseWriter, r *http.Request) {
				CreateAgentHandler(w, r, services.Agents, logger)
			})
			timed.Get("/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
				GetAgentHandler(w, r, services.Agents, logger)
			})
			timed.Get("/admins", func(w http.ResponseWriter, r *http.Request) {
				ListAdminsHandler(w, r, services.Admins, logger)
			})
			timed.Post("/admins", func(w http.ResponseWriter, r *http.Request) {
				CreateAdminHandler(w, r, services.Admins, logger)
			})
		})
	})
	return router
}

// requestTimeout bounds a handler with the configured timeout; zero disables it.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Timeout(d)
}

func AuthenticateJWTHandler(w http.ResponseWriter, r *http.Request, gateway *auth.Gateway, logger *zap.SugaredLogger) {
	var creds models.CredentialsDTO
	if err := ReadRequestBody(r, &creds); err != nil {
		writeError(w, r, err, logger)
		return
	}
	token, err := gateway.IssueToken(r.Context(), creds.Username, creds.Password)
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, models.TokenDTO{Token: token})
}

func AuthenticateAPIKeyHandler(w http.ResponseWriter, r *http.Request, gateway *auth.Gateway, logger *zap.SugaredLogger) {
	var req models.APIKeyRequestDTO
	if err := ReadRequestBody(r, &req); err != nil {
		writeError(w, r, err, logger)
		return
	}
	key, err := gateway.IssueAPIKey(r.Context(), req.Username, req.Password, req.AgentID)
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, models.KeyDTO{Key: key})
}

func PingHandler(w http.ResponseWriter, r *http.Request, audits *service.AuditService, logger *zap.SugaredLogger) {
	if err := audits.Ping(r.Context()); err != nil {
		logger.Errorw("storage ping failed", "error", err)
		middlewareinternal.WriteMessage(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, "Alive")
}

func WriteHandler(w http.ResponseWriter, r *http.Request, audits *service.AuditService, logger *zap.SugaredLogger) {
	agentID, ok := auth.AgentFromContext(r.Context())
	if !ok {
		middlewareinternal.WriteMessage(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}
	var dto models.AuditDTO
	if err := ReadRequestBody(r, &dto); err != nil {
		writeError(w, r, err, logger)
		return
	}
	audit, result, err := audits.Ingest(r.Context(), agentID, dto)
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	logger.Debugw("audit ingested", "audit", audit.ID, "category", audit.Category,
		"alerts", len(result.Alerts), "intrusions", len(result.Intrusions))
	middlewareinternal.WriteMessage(w, http.StatusOK, msgSuccess)
}

func ListAuditsHandler(w http.ResponseWriter, r *http.Request, audits *service.AuditService, logger *zap.SugaredLogger) {
	list, err := audits.ListAudits(r.Context())
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func GetAuditHandler(w http.ResponseWriter, r *http.Request, audits *service.AuditService, logger *zap.SugaredLogger) {
	audit, err := audits.GetAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

func ListAlertsHandler(w http.ResponseWriter, r *http.Request, audits *service.AuditService, logger *zap.SugaredLogger) {
	list, err := audits.ListAlerts(r.Context())
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func ListAgentsHandler(w http.ResponseWriter, r *http.Request, agents *service.AgentService, logger *zap.SugaredLogger) {
	list, err := agents.ListAgents(r.Context())
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func CreateAgentHandler(w http.ResponseWriter, r *http.Request, agents *service.AgentService, logger *zap.SugaredLogger) {
	var dto models.AgentDTO
	if err := ReadRequestBody(r, &dto); err != nil {
		writeError(w, r, err, logger)
		return
	}
	agent, err := agents.Register(r.Context(), dto)
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func GetAgentHandler(w http.ResponseWriter, r *http.Request, agents *service.AgentService, logger *zap.SugaredLogger) {
	agent, err := agents.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func CommandHandler(w http.ResponseWriter, r *http.Request, commands *service.CommandService, logger *zap.SugaredLogger) {
	var dto models.CommandDTO
	if err := ReadRequestBody(r, &dto); err != nil {
		writeError(w, r, err, logger)
		return
	}
	cmd := models.Command{Command: dto.Command, Arguments: dto.Arguments}
	if err := commands.Dispatch(r.Context(), chi.URLParam(r, "id"), cmd); err != nil {
		writeError(w, r, err, logger)
		return
	}
	middlewareinternal.WriteMessage(w, http.StatusOK, msgSuccess)
}

func ListAdminsHandler(w http.ResponseWriter, r *http.Request, admins *service.AdminService, logger *zap.SugaredLogger) {
	list, err := admins.ListAdmins(r.Context())
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func CreateAdminHandler(w http.ResponseWriter, r *http.Request, admins *service.AdminService, logger *zap.SugaredLogger) {
	actor, _ := auth.AdminFromContext(r.Context())
	var dto models.CredentialsDTO
	if err := ReadRequestBody(r, &dto); err != nil {
		writeError(w, r, err, logger)
		return
	}
	admin, err := admins.CreateAdmin(r.Context(), actor, dto)
	if err != nil {
		writeError(w, r, err, logger)
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}

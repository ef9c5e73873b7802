package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Schera-ole/vmwatch/internal/analysis"
	"github.com/Schera-ole/vmwatch/internal/auth"
	"github.com/Schera-ole/vmwatch/internal/cache"
	"github.com/Schera-ole/vmwatch/internal/codec"
	"github.com/Schera-ole/vmwatch/internal/config"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/repository"
	"github.com/Schera-ole/vmwatch/internal/service"
)

type fixture struct {
	server *httptest.Server
	codec  *codec.Codec
	store  *repository.MemStorage
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	logSugar := logger.Sugar()

	store := repository.NewMemStorage()
	caches := cache.NewFacade(nil, nil)
	cached := repository.NewCachedStorage(store, caches)

	key, err := codec.GenerateKey()
	require.NoError(t, err)
	c, err := codec.NewFromBase64(key)
	require.NoError(t, err)

	gateway, err := auth.NewGateway(cached, caches, auth.Options{Secret: "test-secret", HashCost: bcrypt.MinCost}, logSugar)
	require.NoError(t, err)

	admins := service.NewAdminService(cached, logSugar)
	require.NoError(t, admins.Bootstrap(context.Background(), "root", "s3cret"))

	services := Services{
		Gateway:  gateway,
		Audits:   service.NewAuditService(cached, c, analysis.NewEngine(logSugar), nil, logSugar),
		Admins:   admins,
		Agents:   service.NewAgentService(cached),
		Commands: service.NewCommandService(cached, c, nil, logSugar),
	}
	ts := httptest.NewServer(Router(services, logSugar, &cfg))
	t.Cleanup(ts.Close)
	return &fixture{server: ts, codec: c, store: store}
}

func testRequest(t *testing.T, ts *httptest.Server, method,
	path string, body io.Reader, headers map[string]string) (*http.Response, string) {
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(respBody)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (f *fixture) login(t *testing.T, username, password string) string {
	t.Helper()
	resp, body := testRequest(t, f.server, http.MethodPost, "/api/authenticate/jwt",
		jsonBody(t, models.CredentialsDTO{Username: username, Password: password}), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var token models.TokenDTO
	require.NoError(t, json.Unmarshal([]byte(body), &token))
	return token.Token
}

func (f *fixture) registerAgent(t *testing.T, token, url string) models.Agent {
	t.Helper()
	resp, body := testRequest(t, f.server, http.MethodPost, "/api/agents",
		jsonBody(t, models.AgentDTO{Name: "web", URL: url, AllowedUsers: []string{"deploy"}}), bearer(token))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var agent models.Agent
	require.NoError(t, json.Unmarshal([]byte(body), &agent))
	return agent
}

func (f *fixture) issueKey(t *testing.T, agentID string) string {
	t.Helper()
	resp, body := testRequest(t, f.server, http.MethodPost, "/api/authenticate/apiKey",
		jsonBody(t, models.APIKeyRequestDTO{Username: "root", Password: "s3cret", AgentID: agentID}), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var key models.KeyDTO
	require.NoError(t, json.Unmarshal([]byte(body), &key))
	return key.Key
}

func gzipped(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err = gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func TestPingHandler(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	resp, body := testRequest(t, f.server, http.MethodGet, "/api/liveness/ping", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"Alive"`, body)
}

func TestAuthenticateJWTHandler(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	tests := []struct {
		name       string
		body       string
		statusCode int
	}{
		{name: "valid credentials", body: `{"username":"root","password":"s3cret"}`, statusCode: http.StatusOK},
		{name: "wrong password", body: `{"username":"root","password":"nope"}`, statusCode: http.StatusUnauthorized},
		{name: "unknown user", body: `{"username":"ghost","password":"s3cret"}`, statusCode: http.StatusUnauthorized},
		{name: "missing password", body: `{"username":"root"}`, statusCode: http.StatusBadRequest},
		{name: "invalid json", body: `{"username": json`, statusCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := testRequest(t, f.server, http.MethodPost, "/api/authenticate/jwt", bytes.NewBufferString(tt.body), nil)
			assert.Equal(t, tt.statusCode, resp.StatusCode)
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	for _, path := range []string{"/api/audits", "/api/alerts", "/api/agents", "/api/admins"} {
		resp, body := testRequest(t, f.server, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.JSONEq(t, `{"message":"Unauthorized"}`, body)

		resp, _ = testRequest(t, f.server, http.MethodGet, path, nil, bearer("forged"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestWriteHandler(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	token := f.login(t, "root", "s3cret")
	agent := f.registerAgent(t, token, "http://127.0.0.1:1")
	key := f.issueKey(t, agent.ID)

	sealed, err := f.codec.Encrypt([]byte("cpu-total;92.00"), agent.ID)
	require.NoError(t, err)
	foreign, err := f.codec.Encrypt([]byte("cpu-total;92.00"), "someone-else")
	require.NoError(t, err)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		dto        models.AuditDTO
		key        string
		statusCode int
	}{
		{
			name:       "valid audit",
			dto:        models.AuditDTO{VMID: "vm-1", Category: "vm_cpu", Data: sealed, Timestamp: ts},
			key:        key,
			statusCode: http.StatusOK,
		},
		{
			name:       "missing key",
			dto:        models.AuditDTO{VMID: "vm-1", Category: "vm_cpu", Data: sealed, Timestamp: ts},
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "wrong key",
			dto:        models.AuditDTO{VMID: "vm-1", Category: "vm_cpu", Data: sealed, Timestamp: ts},
			key:        "not-a-key",
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "sealed for another agent",
			dto:        models.AuditDTO{VMID: "vm-1", Category: "vm_cpu", Data: foreign, Timestamp: ts},
			key:        key,
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "missing timestamp",
			dto:        models.AuditDTO{VMID: "vm-1", Category: "vm_cpu", Data: sealed},
			key:        key,
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "data is not base64",
			dto:        models.AuditDTO{VMID: "vm-1", Category: "vm_cpu", Data: "%%%", Timestamp: ts},
			key:        key,
			statusCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"Content-Encoding": "gzip"}
			if tt.key != "" {
				headers["X-API-KEY"] = tt.key
			}
			resp, _ := testRequest(t, f.server, http.MethodPost, "/api/write", gzipped(t, tt.dto), headers)
			assert.Equal(t, tt.statusCode, resp.StatusCode)
		})
	}

	resp, body := testRequest(t, f.server, http.MethodGet, "/api/alerts", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var alerts []models.Alert
	require.NoError(t, json.Unmarshal([]byte(body), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.ImportanceCritical, alerts[0].Importance)
	assert.Equal(t, agent.ID, alerts[0].AgentID)

	resp, body = testRequest(t, f.server, http.MethodGet, "/api/audits", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var audits []models.Audit
	require.NoError(t, json.Unmarshal([]byte(body), &audits))
	require.Len(t, audits, 1)

	resp, _ = testRequest(t, f.server, http.MethodGet, "/api/audits/"+audits[0].ID, nil, bearer(token))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = testRequest(t, f.server, http.MethodGet, "/api/audits/missing", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentHandlers(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	token := f.login(t, "root", "s3cret")
	agent := f.registerAgent(t, token, "http://10.0.0.5:8081")

	resp, body := testRequest(t, f.server, http.MethodGet, "/api/agents/"+agent.ID, nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"allowedUsers":["deploy"]`)

	resp, _ = testRequest(t, f.server, http.MethodGet, "/api/agents/missing", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = testRequest(t, f.server, http.MethodPost, "/api/agents",
		bytes.NewBufferString(`{"name":"db","url":"not a url"}`), bearer(token))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = testRequest(t, f.server, http.MethodGet, "/api/agents", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agents []models.Agent
	require.NoError(t, json.Unmarshal([]byte(body), &agents))
	assert.Len(t, agents, 1)
}

func TestCommandHandler(t *testing.T) {
	var received models.CommandEnvelope
	agentServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer agentServer.Close()

	f := newFixture(t, config.ServerConfig{})
	token := f.login(t, "root", "s3cret")
	agent := f.registerAgent(t, token, agentServer.URL)
	offline := f.registerAgent(t, token, "http://127.0.0.1:1")

	resp, _ := testRequest(t, f.server, http.MethodPost, "/api/agents/"+agent.ID+"/command",
		jsonBody(t, models.CommandDTO{Command: "restart_service", Arguments: "nginx"}), bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	plaintext, err := f.codec.Decrypt(received.Data, agent.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"restart_service","arguments":"nginx"}`, string(plaintext))

	resp, _ = testRequest(t, f.server, http.MethodPost, "/api/agents/"+offline.ID+"/command",
		jsonBody(t, models.CommandDTO{Command: "sync_disks"}), bearer(token))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = testRequest(t, f.server, http.MethodPost, "/api/agents/missing/command",
		jsonBody(t, models.CommandDTO{Command: "sync_disks"}), bearer(token))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = testRequest(t, f.server, http.MethodPost, "/api/agents/"+agent.ID+"/command",
		bytes.NewBufferString(`{"arguments":"nginx"}`), bearer(token))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandHandler_OutlivesRequestTimeout(t *testing.T) {
	agentServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer agentServer.Close()

	f := newFixture(t, config.ServerConfig{RequestTimeout: 50 * time.Millisecond})
	token := f.login(t, "root", "s3cret")
	agent := f.registerAgent(t, token, agentServer.URL)

	resp, _ := testRequest(t, f.server, http.MethodPost, "/api/agents/"+agent.ID+"/command",
		jsonBody(t, models.CommandDTO{Command: "sync_disks"}), bearer(token))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminHandlers(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	root := f.login(t, "root", "s3cret")

	resp, body := testRequest(t, f.server, http.MethodPost, "/api/admins",
		jsonBody(t, models.CredentialsDTO{Username: "ops", Password: "pw"}), bearer(root))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.NotContains(t, body, "pw")

	resp, _ = testRequest(t, f.server, http.MethodPost, "/api/admins",
		jsonBody(t, models.CredentialsDTO{Username: "ops", Password: "pw"}), bearer(root))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ops := f.login(t, "ops", "pw")
	resp, _ = testRequest(t, f.server, http.MethodPost, "/api/admins",
		jsonBody(t, models.CredentialsDTO{Username: "intern", Password: "pw"}), bearer(ops))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = testRequest(t, f.server, http.MethodGet, "/api/admins", nil, bearer(ops))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var admins []models.Admin
	require.NoError(t, json.Unmarshal([]byte(body), &admins))
	assert.Len(t, admins, 2)
}

func TestAuthenticateRateLimit(t *testing.T) {
	f := newFixture(t, config.ServerConfig{AuthRateLimit: 0.001, AuthBurst: 2})

	body := `{"username":"root","password":"nope"}`
	for range 2 {
		resp, _ := testRequest(t, f.server, http.MethodPost, "/api/authenticate/jwt", bytes.NewBufferString(body), nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, _ := testRequest(t, f.server, http.MethodPost, "/api/authenticate/jwt", bytes.NewBufferString(body), nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = testRequest(t, f.server, http.MethodGet, "/api/liveness/ping", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "only the authenticate routes are throttled")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	testRequest(t, f.server, http.MethodGet, "/api/liveness/ping", nil, nil)

	resp, body := testRequest(t, f.server, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "vmwatch_http_request_duration_seconds")
}

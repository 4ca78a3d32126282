package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7D-Solutions/gaugecore/assets"
	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/bus"
	"github.com/7D-Solutions/gaugecore/calibration"
	"github.com/7D-Solutions/gaugecore/certs"
	"github.com/7D-Solutions/gaugecore/checkout"
	"github.com/7D-Solutions/gaugecore/config"
	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db/repository"
	"github.com/7D-Solutions/gaugecore/gauge"
	"github.com/7D-Solutions/gaugecore/pairing"
	"github.com/7D-Solutions/gaugecore/security"
	"github.com/7D-Solutions/gaugecore/statemanager"
	"github.com/7D-Solutions/gaugecore/storage"
	"github.com/7D-Solutions/gaugecore/users"
)

func testS3Config() config.S3Config {
	return config.S3Config{
		Bucket:     "test-certs",
		Region:     "us-east-1",
		PresignTTL: 15 * time.Minute,
	}
}

type apiFixture struct {
	e   *echo.Echo
	mem *repository.Memory
	jwt *security.JWTService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mem := repository.NewMemory()
	log := audit.NewMemoryLog()
	b := bus.New(nil)
	gate := auth.NewGate(mem.Users)
	jwt := security.NewJWTService("test-secret")

	gw := storage.NewGatewayWithClient(storage.NewMockS3Client(), &storage.MockPresigner{}, testS3Config())

	h := &Handlers{
		Assets:      assets.NewService(mem.Gauges, mem, log, b, gate),
		Pairing:     pairing.NewManager(mem.Gauges, mem.SetIDs, mem, log, b, gate),
		Checkout:    checkout.NewEngine(mem.Gauges, mem.Checkouts, mem, log, b, gate, nil),
		Calibration: calibration.NewCoordinator(mem.Gauges, mem.Batches, mem.Certificates, mem.Checkouts, mem, log, b, gate),
		Certs:       certs.NewRegistry(mem.Gauges, mem.Certificates, mem, log, b, gate),
		Users:       users.NewService(mem.Users, mem, log, gate, jwt, 0),
		JWT:         jwt,
		Storage:     gw,
		State:       statemanager.New(statemanager.Config{ServiceName: "test"}),
	}

	e := echo.New()
	SetupRoutes(e, h, nil)
	return &apiFixture{e: e, mem: mem, jwt: jwt}
}

// seedUser inserts a user with a known password and returns a valid token.
func (f *apiFixture) seedUser(t *testing.T, id, role string) string {
	t.Helper()
	hash, err := security.HashPassword("hunter2-secret")
	require.NoError(t, err)
	_, err = f.mem.Users.Create(context.Background(), nil, &repository.User{
		ID:           id,
		Email:        id + "@example.com",
		DisplayName:  id,
		Role:         role,
		PasswordHash: hash,
		Active:       true,
	})
	require.NoError(t, err)

	token, err := f.jwt.GenerateToken(id, role, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestLoginAndCreateGauge(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "admin-1", auth.RoleAdmin)

	rec := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin-1@example.com",
		"password": "hunter2-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	rec = f.do(t, http.MethodPost, "/api/gauges", login.Token, map[string]interface{}{
		"serial_number":  "TG-100",
		"equipment_type": "thread_gauge",
		"ownership_type": "company",
		"specification": map[string]interface{}{
			"thread": map[string]string{"thread_size": ".250-20", "thread_form": "UN", "thread_class": "2A"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created gauge.Gauge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, gauge.StatusAvailable, created.Status)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/gauges/%d", created.ID), login.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "admin-1", auth.RoleAdmin)

	rec := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin-1@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMissingTokenRejected(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/gauges", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestViewerCannotCreate(t *testing.T) {
	f := newAPIFixture(t)
	token := f.seedUser(t, "viewer-1", auth.RoleViewer)

	rec := f.do(t, http.MethodPost, "/api/gauges", token, map[string]interface{}{
		"serial_number":  "TG-200",
		"equipment_type": "hand_tool",
		"ownership_type": "company",
		"specification":  map[string]interface{}{"hand_tool": map[string]string{"tool_format": "caliper"}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(core.KindPermissionDenied), body.Kind)
}

func TestValidationErrorShape(t *testing.T) {
	f := newAPIFixture(t)
	token := f.seedUser(t, "admin-1", auth.RoleAdmin)

	rec := f.do(t, http.MethodPost, "/api/gauges", token, map[string]interface{}{
		"serial_number":  "TG-300",
		"equipment_type": "widget",
		"ownership_type": "company",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(core.KindValidation), body.Kind)
}

func TestUnknownGaugeIs404(t *testing.T) {
	f := newAPIFixture(t)
	token := f.seedUser(t, "admin-1", auth.RoleAdmin)

	rec := f.do(t, http.MethodGet, "/api/gauges/9999", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutFlow(t *testing.T) {
	f := newAPIFixture(t)
	token := f.seedUser(t, "admin-1", auth.RoleAdmin)

	rec := f.do(t, http.MethodPost, "/api/gauges", token, map[string]interface{}{
		"serial_number":  "HT-1",
		"equipment_type": "hand_tool",
		"ownership_type": "company",
		"specification":  map[string]interface{}{"hand_tool": map[string]string{"tool_format": "caliper"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created gauge.Gauge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodPost, "/api/checkouts", token, map[string]interface{}{
		"gauge_id": created.ID,
		"notes":    "first article inspection",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/checkouts/%d", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Double checkout conflicts.
	rec = f.do(t, http.MethodPost, "/api/checkouts", token, map[string]interface{}{"gauge_id": created.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/checkouts/%d", created.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCertificateDownloadURL(t *testing.T) {
	f := newAPIFixture(t)
	adminToken := f.seedUser(t, "admin-1", auth.RoleAdmin)
	calToken := f.seedUser(t, "cal-1", auth.RoleCalibration)

	rec := f.do(t, http.MethodPost, "/api/gauges", adminToken, map[string]interface{}{
		"serial_number":  "HT-9",
		"equipment_type": "hand_tool",
		"ownership_type": "company",
		"specification":  map[string]interface{}{"hand_tool": map[string]string{"tool_format": "micrometer"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created gauge.Gauge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/gauges/%d/certificates", created.ID), calToken, map[string]interface{}{
		"file_name": "cal-cert.pdf",
		"file_size": 2048,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cert repository.Certificate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cert))
	assert.True(t, strings.HasPrefix(cert.FileRef, "certificates/"))

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/certificates/%d/download", cert.ID), calToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out["url"], "signed")
}

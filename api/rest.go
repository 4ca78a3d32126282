// Package api exposes the gauge lifecycle operation surface over REST.
// Handlers are thin: they bind input, hand the verified caller to a core
// service, and translate structured errors to HTTP statuses. All domain
// rules live in the core packages.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/7D-Solutions/gaugecore/assets"
	"github.com/7D-Solutions/gaugecore/audit"
	"github.com/7D-Solutions/gaugecore/calibration"
	"github.com/7D-Solutions/gaugecore/certs"
	"github.com/7D-Solutions/gaugecore/checkout"
	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db/repository"
	"github.com/7D-Solutions/gaugecore/gauge"
	"github.com/7D-Solutions/gaugecore/pairing"
	"github.com/7D-Solutions/gaugecore/security"
	"github.com/7D-Solutions/gaugecore/statemanager"
	"github.com/7D-Solutions/gaugecore/storage"
	"github.com/7D-Solutions/gaugecore/users"
)

// AuditStore is the audit query surface the API needs. Implemented by
// audit.Recorder.
type AuditStore interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	Verify(ctx context.Context, fromSeq, toSeq int64) (audit.VerifyResult, error)
	Export(ctx context.Context, f audit.Filter, emit func(audit.Entry) error) error
}

// Handlers bundles the core services behind the REST surface. Storage and
// Audit are optional; their routes are skipped when nil.
type Handlers struct {
	Assets      *assets.Service
	Pairing     *pairing.Manager
	Checkout    *checkout.Engine
	Calibration *calibration.Coordinator
	Certs       *certs.Registry
	Users       *users.Service
	JWT         *security.JWTService
	Audit       AuditStore
	Storage     *storage.Gateway
	State       *statemanager.Manager
}

// SetupRoutes registers every route. The /api group requires a bearer
// token; /auth/login and /healthz are public.
func SetupRoutes(e *echo.Echo, h *Handlers, healthz echo.HandlerFunc) {
	e.POST("/auth/login", h.Login)
	if healthz != nil {
		e.GET("/healthz", healthz)
	}

	g := e.Group("/api")
	g.Use(JWTMiddleware(h.JWT))

	g.POST("/gauges", h.CreateGauge)
	g.GET("/gauges", h.ListGauges)
	g.GET("/gauges/spares", h.ListSpares)
	g.GET("/gauges/serial/:type/:serial", h.GetGaugeBySerial)
	g.GET("/gauges/:id", h.GetGauge)
	g.PATCH("/gauges/:id", h.UpdateGauge)
	g.POST("/gauges/:id/verify-certificates", h.VerifyCertificates)
	g.POST("/gauges/:id/release", h.ReleaseGauge)
	g.POST("/gauges/:id/certificates", h.UploadCertificate)
	g.GET("/gauges/:id/certificates", h.ListCertificates)

	g.POST("/sets", h.PairSpares)
	g.GET("/sets/history", h.SetHistory)
	g.GET("/sets/:setID", h.GetSet)
	g.POST("/sets/:setID/replace", h.ReplaceMember)
	g.POST("/sets/:setID/unpair", h.Unpair)
	g.POST("/sets/:setID/retire", h.RetireSet)

	g.POST("/checkouts", h.CheckoutGauge)
	g.GET("/checkouts/:gaugeID", h.GetActiveCheckout)
	g.DELETE("/checkouts/:gaugeID", h.ReturnGauge)
	g.POST("/checkouts/:gaugeID/transfer", h.TransferCheckout)

	g.POST("/batches", h.CreateBatch)
	g.GET("/batches", h.ListBatches)
	g.GET("/batches/:id", h.GetBatch)
	g.POST("/batches/:id/gauges", h.AddBatchGauge)
	g.DELETE("/batches/:id/gauges/:gaugeID", h.RemoveBatchGauge)
	g.POST("/batches/:id/send", h.SendBatch)
	g.POST("/batches/:id/receive", h.ReceiveBatchGauge)
	g.POST("/batches/:id/cancel", h.CancelBatch)

	g.PATCH("/certificates/:id", h.RenameCertificate)
	g.DELETE("/certificates/:id", h.DeleteCertificate)
	if h.Storage != nil {
		g.GET("/certificates/:id/download", h.CertificateDownloadURL)
	}

	g.POST("/users", h.CreateUser)
	g.PATCH("/users/:id/role", h.ChangeUserRole)

	if h.Audit != nil {
		g.GET("/audit", h.QueryAudit)
		g.GET("/audit/verify", h.VerifyAudit)
		g.GET("/audit/export", h.ExportAudit)
	}

	if h.State != nil {
		h.State.RegisterRoutes(g)
	}
}

// --- auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (h *Handlers) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	token, _, err := h.Users.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token})
}

// --- gauges ---

func (h *Handlers) CreateGauge(c echo.Context) error {
	var g gauge.Gauge
	if err := c.Bind(&g); err != nil {
		return badRequest(c, "invalid request body")
	}
	created, err := h.Assets.Create(c.Request().Context(), callerFrom(c), &g)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

type updateGaugeRequest struct {
	Manufacturer    *string `json:"manufacturer"`
	Model           *string `json:"model"`
	CalFrequency    *int    `json:"calibration_frequency_days"`
	StorageLocation *string `json:"storage_location"`
	CustomName      *string `json:"custom_name"`
	CategoryID      *int64  `json:"category_id"`
}

func (h *Handlers) UpdateGauge(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	var req updateGaugeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	updated, err := h.Assets.Update(c.Request().Context(), callerFrom(c), id, assets.UpdateFields{
		Manufacturer:    req.Manufacturer,
		Model:           req.Model,
		CalFrequency:    req.CalFrequency,
		StorageLocation: req.StorageLocation,
		CustomName:      req.CustomName,
		CategoryID:      req.CategoryID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handlers) GetGauge(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	g, err := h.Assets.Get(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handlers) GetGaugeBySerial(c echo.Context) error {
	g, err := h.Assets.GetBySerial(c.Request().Context(), callerFrom(c),
		gauge.EquipmentType(c.Param("type")), c.Param("serial"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handlers) ListGauges(c echo.Context) error {
	f := repository.GaugeListFilter{
		EquipmentType: gauge.EquipmentType(c.QueryParam("equipment_type")),
		Status:        gauge.Status(c.QueryParam("status")),
		OwnershipType: gauge.OwnershipType(c.QueryParam("ownership_type")),
		SetID:         c.QueryParam("set_id"),
		Limit:         queryInt(c, "limit"),
		Offset:        queryInt(c, "offset"),
	}
	list, err := h.Assets.List(c.Request().Context(), callerFrom(c), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handlers) ListSpares(c echo.Context) error {
	f := repository.SpareFilter{
		ThreadSize:  c.QueryParam("thread_size"),
		ThreadForm:  c.QueryParam("thread_form"),
		ThreadClass: c.QueryParam("thread_class"),
	}
	list, err := h.Assets.ListSpares(c.Request().Context(), callerFrom(c), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// --- sets ---

type pairRequest struct {
	GoSerial        string  `json:"go_serial"`
	NoGoSerial      string  `json:"nogo_serial"`
	SetID           string  `json:"set_id"` // optional explicit id
	Manufacturer    string  `json:"manufacturer"`
	Model           string  `json:"model"`
	CalFrequency    int     `json:"calibration_frequency_days"`
	StorageLocation *string `json:"storage_location"`
	CategoryID      *int64  `json:"category_id"`
}

func (h *Handlers) PairSpares(c echo.Context) error {
	var req pairRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	caller := callerFrom(c)
	shared := pairing.SharedFields{
		Manufacturer:    req.Manufacturer,
		Model:           req.Model,
		CalFrequency:    req.CalFrequency,
		StorageLocation: req.StorageLocation,
		CategoryID:      req.CategoryID,
	}

	var set *pairing.Set
	var err error
	if req.SetID == "" {
		set, err = h.Pairing.PairSpares(ctx, caller, req.GoSerial, req.NoGoSerial, shared)
	} else {
		var goG, nogoG *gauge.Gauge
		goG, err = h.Assets.GetBySerial(ctx, caller, gauge.EquipmentThreadGauge, req.GoSerial)
		if err != nil {
			return writeError(c, err)
		}
		nogoG, err = h.Assets.GetBySerial(ctx, caller, gauge.EquipmentThreadGauge, req.NoGoSerial)
		if err != nil {
			return writeError(c, err)
		}
		set, err = h.Pairing.CreateSetWithID(ctx, caller, goG.ID, nogoG.ID, req.SetID, shared)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, set)
}

func (h *Handlers) GetSet(c echo.Context) error {
	members, err := h.Assets.GetByPublicID(c.Request().Context(), callerFrom(c), c.Param("setID"))
	if err != nil {
		return writeError(c, err)
	}
	if len(members) == 0 {
		return writeError(c, core.NotFound("set", c.Param("setID")))
	}
	return c.JSON(http.StatusOK, members)
}

type replaceRequest struct {
	OldSerial   string `json:"old_serial"`
	SpareSerial string `json:"spare_serial"`
}

func (h *Handlers) ReplaceMember(c echo.Context) error {
	var req replaceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	set, err := h.Pairing.ReplaceMember(c.Request().Context(), callerFrom(c), c.Param("setID"), req.OldSerial, req.SpareSerial)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handlers) Unpair(c echo.Context) error {
	if err := h.Pairing.Unpair(c.Request().Context(), callerFrom(c), c.Param("setID")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) RetireSet(c echo.Context) error {
	if err := h.Pairing.RetireSet(c.Request().Context(), callerFrom(c), c.Param("setID")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) SetHistory(c echo.Context) error {
	history, err := h.Pairing.History(c.Request().Context(), callerFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

// --- checkouts ---

type checkoutRequest struct {
	GaugeID int64  `json:"gauge_id"`
	Notes   string `json:"notes"`
}

func (h *Handlers) CheckoutGauge(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	rows, err := h.Checkout.Checkout(c.Request().Context(), callerFrom(c), req.GaugeID, req.Notes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, rows)
}

func (h *Handlers) ReturnGauge(c echo.Context) error {
	id, err := pathID(c, "gaugeID")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	if err := h.Checkout.Return(c.Request().Context(), callerFrom(c), id, c.QueryParam("notes")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type transferRequest struct {
	ToUserID string `json:"to_user_id"`
	Notes    string `json:"notes"`
}

func (h *Handlers) TransferCheckout(c echo.Context) error {
	id, err := pathID(c, "gaugeID")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.Checkout.Transfer(c.Request().Context(), callerFrom(c), id, req.ToUserID, req.Notes); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) GetActiveCheckout(c echo.Context) error {
	id, err := pathID(c, "gaugeID")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	ac, err := h.Checkout.GetActive(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}
	if ac == nil {
		return writeError(c, core.NotFound("checkout", c.Param("gaugeID")))
	}
	return c.JSON(http.StatusOK, ac)
}

// --- calibration batches ---

type createBatchRequest struct {
	Type   repository.BatchType `json:"type"`
	Vendor *string              `json:"vendor"`
}

func (h *Handlers) CreateBatch(c echo.Context) error {
	var req createBatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.Calibration.CreateBatch(c.Request().Context(), callerFrom(c), req.Type, req.Vendor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handlers) GetBatch(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid batch id")
	}
	b, members, err := h.Calibration.GetBatch(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"batch": b, "members": members})
}

func (h *Handlers) ListBatches(c echo.Context) error {
	var statuses []repository.BatchStatus
	if s := c.QueryParam("status"); s != "" {
		statuses = append(statuses, repository.BatchStatus(s))
	}
	list, err := h.Calibration.ListBatches(c.Request().Context(), callerFrom(c), statuses)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

type batchGaugeRequest struct {
	GaugeID int64 `json:"gauge_id"`
}

func (h *Handlers) AddBatchGauge(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid batch id")
	}
	var req batchGaugeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.Calibration.AddGauge(c.Request().Context(), callerFrom(c), id, req.GaugeID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) RemoveBatchGauge(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid batch id")
	}
	gaugeID, err := pathID(c, "gaugeID")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	if err := h.Calibration.RemoveGauge(c.Request().Context(), callerFrom(c), id, gaugeID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) SendBatch(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid batch id")
	}
	opID := ""
	if h.State != nil {
		opID = h.State.Track("batch-send", map[string]interface{}{"batch_id": id})
	}
	err = h.Calibration.Send(c.Request().Context(), callerFrom(c), id)
	if h.State != nil {
		h.State.CompleteOperation(opID, err)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type receiveRequest struct {
	GaugeID int64 `json:"gauge_id"`
	Passed  bool  `json:"passed"`
}

func (h *Handlers) ReceiveBatchGauge(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid batch id")
	}
	var req receiveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	opID := ""
	if h.State != nil {
		opID = h.State.Track("batch-receive", map[string]interface{}{"batch_id": id, "gauge_id": req.GaugeID})
	}
	err = h.Calibration.ReceiveGauge(c.Request().Context(), callerFrom(c), id, req.GaugeID, req.Passed)
	if h.State != nil {
		h.State.CompleteOperation(opID, err)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) CancelBatch(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid batch id")
	}
	if err := h.Calibration.Cancel(c.Request().Context(), callerFrom(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) VerifyCertificates(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	if err := h.Calibration.VerifyCertificates(c.Request().Context(), callerFrom(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type releaseRequest struct {
	StorageLocation *string `json:"storage_location"`
}

func (h *Handlers) ReleaseGauge(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	var req releaseRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.Calibration.ReleaseGauge(c.Request().Context(), callerFrom(c), id, req.StorageLocation); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- certificates ---

type uploadCertRequest struct {
	FileRef  string `json:"file_ref"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

func (h *Handlers) UploadCertificate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	var req uploadCertRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.FileRef == "" && req.FileName != "" {
		req.FileRef = storage.NewFileRef(req.FileName)
	}
	cert, err := h.Certs.Upload(c.Request().Context(), callerFrom(c), id, req.FileRef, req.FileSize)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, cert)
}

func (h *Handlers) ListCertificates(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid gauge id")
	}
	list, err := h.Certs.List(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

type renameCertRequest struct {
	CustomName string `json:"custom_name"`
}

func (h *Handlers) RenameCertificate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid certificate id")
	}
	var req renameCertRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.Certs.Rename(c.Request().Context(), callerFrom(c), id, req.CustomName); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) DeleteCertificate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid certificate id")
	}
	if err := h.Certs.SoftDelete(c.Request().Context(), callerFrom(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) CertificateDownloadURL(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "invalid certificate id")
	}
	ctx := c.Request().Context()
	cert, err := h.Certs.Get(ctx, callerFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}
	url, err := h.Storage.DownloadURL(ctx, cert.FileRef)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

// --- users ---

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

func (h *Handlers) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := h.Users.Create(c.Request().Context(), callerFrom(c), req.Email, req.DisplayName, req.Role, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handlers) ChangeUserRole(c echo.Context) error {
	var req changeRoleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.Users.ChangeRole(c.Request().Context(), callerFrom(c), c.Param("id"), req.Role); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- audit ---

func (h *Handlers) QueryAudit(c echo.Context) error {
	f := audit.Filter{
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
		Action:     c.QueryParam("action"),
		ActorID:    c.QueryParam("actor_id"),
		Limit:      queryInt(c, "limit"),
	}
	entries, err := h.Audit.Query(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handlers) VerifyAudit(c echo.Context) error {
	from := int64(queryInt(c, "from"))
	to := int64(queryInt(c, "to"))
	result, err := h.Audit.Verify(c.Request().Context(), from, to)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ExportAudit streams the matching entries as newline-delimited JSON.
func (h *Handlers) ExportAudit(c echo.Context) error {
	f := audit.Filter{
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())
	return h.Audit.Export(c.Request().Context(), f, func(e audit.Entry) error {
		return enc.Encode(e)
	})
}

// --- helpers ---

func pathID(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func queryInt(c echo.Context, name string) int {
	n, _ := strconv.Atoi(c.QueryParam(name))
	return n
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Kind: string(core.KindValidation), Message: msg})
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/core/service"
	"github.com/stockledger/stockledger/internal/report"
)

const idempotencyHeader = "Idempotency-Key"

// Services bundles the core services the transport adapters call into.
type Services struct {
	Ledger   *service.LedgerService
	Catalog  *service.CatalogService
	Summary  *service.AggregationService
	Settings *service.SettingsService
	Exporter *report.Exporter
}

type HTTPHandler struct {
	svc Services
	log logrus.FieldLogger
}

// numberText accepts a JSON number or a string and keeps the raw text, so
// "2.50" and 2.50 parse identically and "two" reaches validation intact.
type numberText string

func (n *numberText) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numberText(s)
		return nil
	}
	*n = numberText(b)
	return nil
}

type LineRequest struct {
	ItemID   string     `json:"itemId"`
	Quantity numberText `json:"quantity"`
	Price    numberText `json:"price"`
}

type TransactionRequest struct {
	SupplierID string        `json:"supplierId"`
	CustomerID string        `json:"customerId"`
	Date       string        `json:"date"`
	Items      []LineRequest `json:"items"`
	Notes      string        `json:"notes"`
}

type AdjustmentRequest struct {
	Type     string     `json:"type"`
	Quantity numberText `json:"quantity"`
	Reason   string     `json:"reason"`
}

type ItemRequest struct {
	Name         string          `json:"name"`
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	MinStock     int             `json:"minStock"`
	OpeningStock decimal.Decimal `json:"currentStock"`
}

type PartyRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type SettingsRequest struct {
	Currency   string `json:"currency"`
	GSTEnabled bool   `json:"gstEnabled"`
}

type PINRequest struct {
	PIN        string `json:"pin"`
	ConfirmPIN string `json:"confirmPin"`
}

type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

type ErrorResponse struct {
	Error        string           `json:"error"`
	Field        string           `json:"field,omitempty"`
	Line         int              `json:"line,omitempty"`
	Available    *decimal.Decimal `json:"available,omitempty"`
	StockApplied bool             `json:"stock_applied,omitempty"`
	Record       any              `json:"record,omitempty"`
}

func NewHTTPHandler(svc Services, logger logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: logger.WithField("module", "http")}
}

// NewEcho builds the echo instance with the request log and recovery
// middleware and every route registered.
func NewEcho(h *HTTPHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			h.log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			}).Debug("request")
			return nil
		},
	}))
	h.Register(e)
	return e
}

func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)

	api := e.Group("/api")
	api.GET("/items", h.ListItems)
	api.POST("/items", h.CreateItem)
	api.GET("/items/:id", h.GetItem)
	api.PUT("/items/:id", h.UpdateItem)
	api.DELETE("/items/:id", h.DeleteItem)
	api.POST("/items/:id/adjustments", h.AdjustStock)

	api.GET("/stock", h.ListStock)
	api.GET("/stock/low", h.LowStock)

	api.GET("/suppliers", h.ListSuppliers)
	api.POST("/suppliers", h.CreateSupplier)
	api.GET("/suppliers/:id", h.GetSupplier)
	api.PUT("/suppliers/:id", h.UpdateSupplier)
	api.DELETE("/suppliers/:id", h.DeleteSupplier)

	api.GET("/customers", h.ListCustomers)
	api.POST("/customers", h.CreateCustomer)
	api.GET("/customers/:id", h.GetCustomer)
	api.PUT("/customers/:id", h.UpdateCustomer)
	api.DELETE("/customers/:id", h.DeleteCustomer)

	api.GET("/purchases", h.ListPurchases)
	api.POST("/purchases", h.RecordPurchase)
	api.POST("/purchases/commit", h.CommitPurchase)
	api.GET("/sales", h.ListSales)
	api.POST("/sales", h.RecordSale)
	api.POST("/sales/commit", h.CommitSale)

	api.GET("/dashboard", h.Dashboard)

	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.UpdateSettings)
	api.POST("/settings/pin", h.SetPIN)
	api.DELETE("/settings/pin", h.RemovePIN)
	api.POST("/settings/pin/verify", h.VerifyPIN)

	api.POST("/reset", h.Reset)
	api.GET("/export.xlsx", h.Export)
}

func (h *HTTPHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListItems(c echo.Context) error {
	items, err := h.svc.Catalog.ListItems(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *HTTPHandler) GetItem(c echo.Context) error {
	item, err := h.svc.Catalog.GetItem(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) CreateItem(c echo.Context) error {
	var req ItemRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	item, err := h.svc.Catalog.CreateItem(c.Request().Context(), req.input())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *HTTPHandler) UpdateItem(c echo.Context) error {
	var req ItemRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	item, err := h.svc.Catalog.UpdateItem(c.Request().Context(), c.Param("id"), req.input())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) DeleteItem(c echo.Context) error {
	if err := h.svc.Catalog.DeleteItem(c.Request().Context(), c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) AdjustStock(c echo.Context) error {
	var req AdjustmentRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	item, err := h.svc.Ledger.AdjustStock(c.Request().Context(), c.Param("id"),
		domain.AdjustmentType(strings.ToLower(strings.TrimSpace(req.Type))), string(req.Quantity), req.Reason)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) ListStock(c echo.Context) error {
	views, err := h.svc.Catalog.ListStock(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, views)
}

func (h *HTTPHandler) LowStock(c echo.Context) error {
	items, err := h.svc.Summary.LowStock(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *HTTPHandler) ListSuppliers(c echo.Context) error {
	suppliers, err := h.svc.Catalog.ListSuppliers(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, suppliers)
}

func (h *HTTPHandler) GetSupplier(c echo.Context) error {
	s, err := h.svc.Catalog.GetSupplier(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *HTTPHandler) CreateSupplier(c echo.Context) error {
	var req PartyRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	s, err := h.svc.Catalog.CreateSupplier(c.Request().Context(), req.input())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *HTTPHandler) UpdateSupplier(c echo.Context) error {
	var req PartyRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	s, err := h.svc.Catalog.UpdateSupplier(c.Request().Context(), c.Param("id"), req.input())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *HTTPHandler) DeleteSupplier(c echo.Context) error {
	if err := h.svc.Catalog.DeleteSupplier(c.Request().Context(), c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) ListCustomers(c echo.Context) error {
	customers, err := h.svc.Catalog.ListCustomers(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, customers)
}

func (h *HTTPHandler) GetCustomer(c echo.Context) error {
	cu, err := h.svc.Catalog.GetCustomer(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, cu)
}

func (h *HTTPHandler) CreateCustomer(c echo.Context) error {
	var req PartyRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	cu, err := h.svc.Catalog.CreateCustomer(c.Request().Context(), req.input())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, cu)
}

func (h *HTTPHandler) UpdateCustomer(c echo.Context) error {
	var req PartyRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	cu, err := h.svc.Catalog.UpdateCustomer(c.Request().Context(), c.Param("id"), req.input())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, cu)
}

func (h *HTTPHandler) DeleteCustomer(c echo.Context) error {
	if err := h.svc.Catalog.DeleteCustomer(c.Request().Context(), c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) ListPurchases(c echo.Context) error {
	purchases, err := h.svc.Catalog.ListPurchases(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, purchases)
}

func (h *HTTPHandler) RecordPurchase(c echo.Context) error {
	var req TransactionRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	purchase, err := h.svc.Ledger.RecordPurchase(requestContext(c), req.SupplierID, req.Date, req.lines(), req.Notes)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, purchase)
}

// CommitPurchase appends the record returned with a stock_applied storage
// failure. Stock is not touched again.
func (h *HTTPHandler) CommitPurchase(c echo.Context) error {
	var purchase domain.Purchase
	if err := c.Bind(&purchase); err != nil {
		return badBody(c)
	}
	if err := h.svc.Ledger.CommitPurchase(c.Request().Context(), purchase); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, purchase)
}

func (h *HTTPHandler) ListSales(c echo.Context) error {
	sales, err := h.svc.Catalog.ListSales(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sales)
}

func (h *HTTPHandler) RecordSale(c echo.Context) error {
	var req TransactionRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	sale, err := h.svc.Ledger.RecordSale(requestContext(c), req.CustomerID, req.Date, req.lines(), req.Notes)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sale)
}

func (h *HTTPHandler) CommitSale(c echo.Context) error {
	var sale domain.Sale
	if err := c.Bind(&sale); err != nil {
		return badBody(c)
	}
	if err := h.svc.Ledger.CommitSale(c.Request().Context(), sale); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sale)
}

func (h *HTTPHandler) Dashboard(c echo.Context) error {
	dash, err := h.svc.Summary.Dashboard(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, dash)
}

func (h *HTTPHandler) GetSettings(c echo.Context) error {
	settings, err := h.svc.Settings.Get(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, settingsView(settings))
}

func (h *HTTPHandler) UpdateSettings(c echo.Context) error {
	var req SettingsRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	settings, err := h.svc.Settings.Update(c.Request().Context(), req.Currency, req.GSTEnabled)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, settingsView(settings))
}

func (h *HTTPHandler) SetPIN(c echo.Context) error {
	var req PINRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	if err := h.svc.Settings.SetPIN(c.Request().Context(), req.PIN, req.ConfirmPIN); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) RemovePIN(c echo.Context) error {
	if err := h.svc.Settings.RemovePIN(c.Request().Context()); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) VerifyPIN(c echo.Context) error {
	var req PINRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ok, err := h.svc.Settings.VerifyPIN(c.Request().Context(), req.PIN)
	if err != nil {
		return h.writeError(c, err)
	}
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "incorrect pin"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

func (h *HTTPHandler) Reset(c echo.Context) error {
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	if !req.Confirm {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reset requires confirm: true", Field: "confirm"})
	}
	if err := h.svc.Settings.Reset(c.Request().Context()); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) Export(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.svc.Exporter.Write(c.Request().Context(), &buf); err != nil {
		return h.writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="stockledger.xlsx"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// writeError maps core errors to status codes. Anything unrecognised is a
// 500 with a generic message, the cause is only logged.
func (h *HTTPHandler) writeError(c echo.Context, err error) error {
	var (
		verr  *domain.ValidationError
		rerr  *domain.ReferenceError
		serr  *domain.InsufficientStockError
		perr  *domain.PersistenceError
		entry = h.log.WithFields(logrus.Fields{"method": c.Request().Method, "path": c.Path()})
	)

	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field, Line: verr.Line})
	case errors.As(err, &rerr):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: rerr.Error(), Line: rerr.Line})
	case errors.As(err, &serr):
		available := serr.Available
		return c.JSON(http.StatusConflict, ErrorResponse{Error: serr.Error(), Available: &available})
	case errors.Is(err, domain.ErrDuplicateRequest):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "duplicate request"})
	case errors.As(err, &perr):
		entry.WithError(err).WithField("stock_applied", perr.StockApplied).Error("persistence failure")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:        "storage failure",
			StockApplied: perr.StockApplied,
			Record:       perr.Record,
		})
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled"})
	default:
		entry.WithError(err).Error("request failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
}

func requestContext(c echo.Context) context.Context {
	ctx := c.Request().Context()
	if key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader)); key != "" {
		ctx = service.WithRequestID(ctx, key)
	}
	return ctx
}

func (r TransactionRequest) lines() []domain.LineInput {
	lines := make([]domain.LineInput, 0, len(r.Items))
	for _, l := range r.Items {
		lines = append(lines, domain.LineInput{ItemID: l.ItemID, Quantity: string(l.Quantity), Price: string(l.Price)})
	}
	return lines
}

func (r ItemRequest) input() domain.ItemInput {
	return domain.ItemInput{
		Name:         r.Name,
		Code:         r.Code,
		Description:  r.Description,
		Price:        r.Price,
		MinStock:     r.MinStock,
		OpeningStock: r.OpeningStock,
	}
}

func (r PartyRequest) input() domain.PartyInput {
	return domain.PartyInput{Name: r.Name, Contact: r.Contact, Email: r.Email, Address: r.Address}
}

// settingsView hides the stored PIN hash and exposes only whether a lock is
// configured.
func settingsView(s domain.Settings) map[string]any {
	return map[string]any{
		"currency":   s.Currency,
		"gstEnabled": s.GSTEnabled,
		"locked":     s.Locked(),
	}
}

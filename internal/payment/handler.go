package payment

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	datamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/vpn-billing/internal/transport"
	"github.com/go-chi/chi"
)

// OpsAPI is the slice of the payment service the admin endpoints need.
type OpsAPI interface {
	GetPayment(id int64) (*datamodel.Payment, error)
	ListPayments(limit, offset int, provider, status string) ([]*datamodel.Payment, int64, error)
	Stats() (map[string]int64, error)
	Export(from, to time.Time) ([]ExportRow, error)
}

// Handler serves the read-only payments API used by operators.
type Handler struct {
	transport.BaseHandler
	Service OpsAPI
	Logger  *slog.Logger
}

func NewHandler(service OpsAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.BaseHandler{Logger: logger},
		Service:     service,
		Logger:      logger,
	}
}

// ListPayments handles GET /api/v1/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	provider := r.URL.Query().Get("provider")
	status := r.URL.Query().Get("status")

	items, total, err := h.Service.ListPayments(pageSize, (page-1)*pageSize, provider, status)
	if err != nil {
		h.Logger.Error("ListPayments: service error", "error", err)
		h.HandleError(w, err)
		return
	}

	dtos := make([]PaymentDTO, 0, len(items))
	for _, p := range items {
		dtos = append(dtos, toPaymentDTO(p))
	}

	h.WriteJSON(w, http.StatusOK, PaymentListResponse{
		Items:    dtos,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	record, err := h.Service.GetPayment(id)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, toPaymentDTO(record))
}

// GetStats handles GET /api/v1/payments/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := h.Service.Stats()
	if err != nil {
		h.Logger.Error("GetStats: service error", "error", err)
		h.HandleError(w, err)
		return
	}

	var total int64
	for _, n := range byStatus {
		total += n
	}

	h.WriteJSON(w, http.StatusOK, PaymentStatsResponse{
		Total:    total,
		ByStatus: byStatus,
	})
}

// ExportPayments handles GET /api/v1/payments/export and streams a CSV of
// the selected window, defaulting to the last 90 days. The UTF-8 BOM keeps
// spreadsheet imports from mangling usernames.
func (h *Handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.AddDate(0, 0, -90)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}

	rows, err := h.Service.Export(from, to)
	if err != nil {
		h.Logger.Error("ExportPayments: service error", "error", err)
		h.HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=payments_%s.csv", time.Now().Format("20060102_150405")))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("\xEF\xBB\xBF")); err != nil {
		h.Logger.Error("ExportPayments: failed to write BOM", "error", err)
		return
	}

	cw := csv.NewWriter(w)
	header := []string{"payment_id", "user_id", "username", "first_name", "amount", "currency",
		"provider", "status", "description", "sale_mode", "quantity", "provider_payment_id", "created_at"}
	if err := cw.Write(header); err != nil {
		h.Logger.Error("ExportPayments: failed to write header", "error", err)
		return
	}

	for _, row := range rows {
		username := ""
		if row.Username != nil {
			username = *row.Username
		}
		providerPaymentID := ""
		if row.ProviderPaymentID != nil {
			providerPaymentID = *row.ProviderPaymentID
		}
		record := []string{
			strconv.FormatInt(row.PaymentID, 10),
			strconv.FormatInt(row.UserID, 10),
			username,
			row.FirstName,
			strconv.FormatFloat(row.Amount, 'f', 2, 64),
			row.Currency,
			row.Provider,
			row.Status,
			row.Description,
			row.SaleMode,
			strconv.Itoa(row.Quantity),
			providerPaymentID,
			row.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			h.Logger.Error("ExportPayments: failed to write row", "error", err, "payment_id", row.PaymentID)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.Logger.Error("ExportPayments: flush failed", "error", err)
	}
}

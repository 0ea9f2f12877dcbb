package httpapi

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"bengkelpos/backend/internal/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if !decode(w, r, &req) {
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	query := r.URL.Query()
	page, err := a.service.ListSales(r.Context(), domain.SaleFilter{
		BranchID: query.Get("branch_id"),
		Status:   query.Get("status"),
		From:     from,
		To:       to,
		Page:     parsePositiveLimit(query.Get("page"), 1, 0),
		Limit:    parsePositiveLimit(query.Get("limit"), 20, 100),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleRequestReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnCreateRequest
	if !decode(w, r, &req) {
		return
	}
	ret, err := a.service.RequestReturn(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	returns, err := a.service.ListReturns(r.Context(), domain.ReturnFilter{
		BranchID: query.Get("branch_id"),
		SaleID:   query.Get("sale_id"),
		Status:   query.Get("status"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleApproveReturn(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ApproveReturn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRejectReturn(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.RejectReturn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOfflineSync(w http.ResponseWriter, r *http.Request) {
	var req domain.OfflineSyncRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := a.service.SyncOfflineSales(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	summary, err := a.service.SalesSummary(r.Context(), r.URL.Query().Get("branch_id"), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleSalesSummaryWorkbook(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	content, err := a.service.SalesSummaryWorkbook(r.Context(), r.URL.Query().Get("branch_id"), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("sales-summary-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// handlePublicReceipt serves the receipt behind a sale QR code. Browsers get
// a printable page with ?format=html.
func (a *API) handlePublicReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.GetReceipt(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if r.URL.Query().Get("format") != "html" {
		writeJSON(w, http.StatusOK, receipt)
		return
	}

	var buf bytes.Buffer
	if err := receiptHTMLTmpl.Execute(&buf, receipt); err != nil {
		log.Error().Err(err).Str("sale_id", receipt.Sale.ID).Msg("render receipt")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) handlePublicJobOrder(w http.ResponseWriter, r *http.Request) {
	job, err := a.service.GetJobOrderByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handlePublicReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := a.service.GetReservationByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

// receiptHTMLTmpl relies on html/template escaping for customer and product names.
var receiptHTMLTmpl = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": formatCents,
	"stamp": func(t time.Time) string { return t.Format("02 Jan 2006 15:04") },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Receipt {{.Sale.Number}}</title>
  <style>
    body { font-family: monospace; margin: 16px; max-width: 360px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    td { padding: 2px 0; font-size: 13px; }
    .num { text-align: right; }
    .total { border-top: 1px dashed #000; font-weight: bold; }
  </style>
</head>
<body>
  <h3>{{.BranchName}}</h3>
  <p>{{.BranchAddress}}<br />{{.BranchPhone}}</p>
  <p>No: {{.Sale.Number}}<br />{{stamp .Sale.CreatedAt}}<br />Cashier: {{.Sale.CashierUsername}}{{if .Sale.CustomerName}}<br />Customer: {{.Sale.CustomerName}}{{end}}</p>
  <table>
    <tbody>{{range .Sale.Items}}<tr><td>{{.ProductName}} x{{.Quantity}}</td><td class="num">{{money .TotalCents}}</td></tr>{{end}}</tbody>
    <tfoot>
      <tr class="total"><td>Total</td><td class="num">{{money .Sale.TotalCents}}</td></tr>
      <tr><td>Paid ({{.Sale.PaymentMethod}})</td><td class="num">{{money .Sale.PaidCents}}</td></tr>
      <tr><td>Change</td><td class="num">{{money .Sale.ChangeCents}}</td></tr>
    </tfoot>
  </table>
  <p>Status: {{.Sale.Status}}</p>
</body>
</html>
`))

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

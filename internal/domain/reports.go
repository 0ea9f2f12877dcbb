package domain

type SalesSummary struct {
	BranchID      string             `json:"branch_id,omitempty"`
	From          string             `json:"from"`
	To            string             `json:"to"`
	SalesCount    int                `json:"sales_count"`
	GrossCents    int64              `json:"gross_cents"`
	ReturnedCents int64              `json:"returned_cents"`
	NetCents      int64              `json:"net_cents"`
	ItemsSold     int                `json:"items_sold"`
	ServicesSold  int                `json:"services_sold"`
	ByPayment     []PaymentBreakdown `json:"by_payment"`
	TopProducts   []ProductSales     `json:"top_products"`
	JobOrders     JobOrderStats      `json:"job_orders"`
	Reservations  map[string]int     `json:"reservations"`
	GeneratedAt   string             `json:"generated_at"`
}

type PaymentBreakdown struct {
	PaymentMethod string `json:"payment_method"`
	Sales         int    `json:"sales"`
	TotalCents    int64  `json:"total_cents"`
}

type ProductSales struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	ProductType string `json:"product_type"`
	Quantity    int    `json:"quantity"`
	TotalCents  int64  `json:"total_cents"`
}

type JobOrderStats struct {
	ByStatus   map[string]int `json:"by_status"`
	LaborCents int64          `json:"labor_cents"`
	PartsCents int64          `json:"parts_cents"`
}

type OfflineSale struct {
	ClientRef string            `json:"client_ref"`
	Sale      SaleCreateRequest `json:"sale"`
}

type OfflineSyncRequest struct {
	BranchID   string        `json:"branch_id"`
	TerminalID string        `json:"terminal_id"`
	EnvelopeID string        `json:"envelope_id"`
	Sales      []OfflineSale `json:"sales"`
}

type OfflineSyncStatus struct {
	ClientRef string `json:"client_ref"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	SaleID    string `json:"sale_id,omitempty"`
}

type OfflineSyncResponse struct {
	EnvelopeID string              `json:"envelope_id"`
	Statuses   []OfflineSyncStatus `json:"statuses"`
}

const (
	SyncStatusAccepted  = "accepted"
	SyncStatusDuplicate = "duplicate"
	SyncStatusRejected  = "rejected"
)

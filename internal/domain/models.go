package domain

import "time"

type Actor struct {
	Username     string
	Role         string
	BranchID     string
	Impersonator string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsManager() bool {
	return a.Role == RoleAdmin || a.Role == RoleManager
}

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	IsMain    bool      `json:"is_main"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type BranchCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	IsMain  bool   `json:"is_main"`
}

type BranchUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	IsMain  *bool   `json:"is_main,omitempty"`
	Active  *bool   `json:"active,omitempty"`
}

// BranchDependents counts the rows that keep a branch from being deleted.
type BranchDependents struct {
	Users        int `json:"users"`
	Sales        int `json:"sales"`
	Reservations int `json:"reservations"`
	JobOrders    int `json:"job_orders"`
	Mechanics    int `json:"mechanics"`
}

func (d BranchDependents) Any() bool {
	return d.Users+d.Sales+d.Reservations+d.JobOrders+d.Mechanics > 0
}

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	PriceCents int64     `json:"price_cents"`
	CostCents  int64     `json:"cost_cents"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p Product) TracksStock() bool {
	return p.Type == ProductTypeProduct
}

type ProductWithStock struct {
	Product
	StockQuantity int `json:"stock_quantity"`
}

type BranchStockInput struct {
	BranchID string `json:"branch_id"`
	Quantity int    `json:"quantity"`
}

type ProductCreateRequest struct {
	SKU          string             `json:"sku"`
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	PriceCents   int64              `json:"price_cents"`
	CostCents    int64              `json:"cost_cents"`
	InitialStock []BranchStockInput `json:"initial_stock,omitempty"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	CostCents  *int64  `json:"cost_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

type StockAdjustRequest struct {
	BranchID  string `json:"branch_id"`
	Quantity  int    `json:"quantity"`
	Direction string `json:"direction"`
	Reason    string `json:"reason,omitempty"`
}

type StockAdjustResponse struct {
	BranchID         string `json:"branch_id"`
	ProductID        string `json:"product_id"`
	PreviousQuantity int    `json:"previous_quantity"`
	Quantity         int    `json:"quantity"`
	Message          string `json:"message"`
}

type SaleLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleCreateRequest struct {
	BranchID      string            `json:"branch_id"`
	CustomerName  string            `json:"customer_name,omitempty"`
	PaymentMethod string            `json:"payment_method"`
	PaidCents     int64             `json:"paid_cents"`
	Items         []SaleLineRequest `json:"items"`
	MechanicIDs   []string          `json:"mechanic_ids,omitempty"`
	ClientRef     string            `json:"client_ref,omitempty"`
}

type Sale struct {
	ID              string     `json:"id"`
	Number          string     `json:"number"`
	BranchID        string     `json:"branch_id"`
	CashierUsername string     `json:"cashier_username"`
	CustomerName    string     `json:"customer_name,omitempty"`
	PaymentMethod   string     `json:"payment_method"`
	Status          string     `json:"status"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	TotalCents      int64      `json:"total_cents"`
	PaidCents       int64      `json:"paid_cents"`
	ChangeCents     int64      `json:"change_cents"`
	QRToken         string     `json:"qr_token"`
	ClientRef       string     `json:"client_ref,omitempty"`
	ReservationID   string     `json:"reservation_id,omitempty"`
	MechanicIDs     []string   `json:"mechanic_ids,omitempty"`
	Items           []SaleItem `json:"items"`
	CreatedAt       time.Time  `json:"created_at"`
}

type SaleItem struct {
	ID             string `json:"id"`
	SaleID         string `json:"sale_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	ProductType    string `json:"product_type"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type SaleFilter struct {
	BranchID string
	Status   string
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

type SalePage struct {
	Sales []Sale `json:"sales"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type Receipt struct {
	Sale          Sale   `json:"sale"`
	BranchName    string `json:"branch_name"`
	BranchAddress string `json:"branch_address"`
	BranchPhone   string `json:"branch_phone"`
	ReceiptURL    string `json:"receipt_url"`
}

type SalesReturn struct {
	ID          string     `json:"id"`
	SaleID      string     `json:"sale_id"`
	SaleItemID  string     `json:"sale_item_id"`
	BranchID    string     `json:"branch_id"`
	ProductID   string     `json:"product_id"`
	ProductName string     `json:"product_name"`
	ProductType string     `json:"product_type"`
	Quantity    int        `json:"quantity"`
	AmountCents int64      `json:"amount_cents"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	RequestedBy string     `json:"requested_by"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type ReturnCreateRequest struct {
	SaleID     string `json:"sale_id"`
	SaleItemID string `json:"sale_item_id"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
}

type ReturnFilter struct {
	BranchID string
	SaleID   string
	Status   string
}

type ReturnDecisionResponse struct {
	Return SalesReturn `json:"return"`
	Sale   *Sale       `json:"sale,omitempty"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const (
	ProductTypeProduct = "product"
	ProductTypeService = "service"
)

const (
	StockDirectionAdd      = "add"
	StockDirectionSubtract = "subtract"
)

const (
	SaleStatusCompleted     = "completed"
	SaleStatusPartialReturn = "partial_return"
	SaleStatusReturned      = "returned"
)

const (
	ReturnStatusPending  = "pending"
	ReturnStatusApproved = "approved"
	ReturnStatusRejected = "rejected"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
	PaymentEwallet  = "ewallet"
)

// SaleStatusForReturns derives a sale status from sold and approved-returned quantities.
func SaleStatusForReturns(sold int, returned int) string {
	switch {
	case returned <= 0:
		return SaleStatusCompleted
	case returned >= sold:
		return SaleStatusReturned
	default:
		return SaleStatusPartialReturn
	}
}

package domain

import "time"

type Mechanic struct {
	ID                    string    `json:"id"`
	BranchID              string    `json:"branch_id"`
	Name                  string    `json:"name"`
	Phone                 string    `json:"phone"`
	Active                bool      `json:"active"`
	TotalLaborEarnedCents int64     `json:"total_labor_earned_cents"`
	CreatedAt             time.Time `json:"created_at"`
}

type MechanicCreateRequest struct {
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type MechanicUpdateRequest struct {
	Name   *string `json:"name,omitempty"`
	Phone  *string `json:"phone,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

type JobOrder struct {
	ID             string         `json:"id"`
	Number         string         `json:"number"`
	BranchID       string         `json:"branch_id"`
	MechanicID     string         `json:"mechanic_id,omitempty"`
	SaleID         string         `json:"sale_id,omitempty"`
	CustomerName   string         `json:"customer_name"`
	CustomerPhone  string         `json:"customer_phone,omitempty"`
	VehiclePlate   string         `json:"vehicle_plate"`
	VehicleModel   string         `json:"vehicle_model,omitempty"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status"`
	LaborCostCents int64          `json:"labor_cost_cents"`
	PartsCostCents int64          `json:"parts_cost_cents"`
	TotalCostCents int64          `json:"total_cost_cents"`
	QRToken        string         `json:"qr_token"`
	Parts          []JobOrderPart `json:"parts"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type JobOrderPart struct {
	ID             string `json:"id"`
	JobOrderID     string `json:"job_order_id"`
	ProductID      string `json:"product_id,omitempty"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type JobOrderPartInput struct {
	ProductID      string `json:"product_id,omitempty"`
	Name           string `json:"name,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
}

type JobOrderCreateRequest struct {
	BranchID       string              `json:"branch_id"`
	MechanicID     string              `json:"mechanic_id,omitempty"`
	SaleID         string              `json:"sale_id,omitempty"`
	CustomerName   string              `json:"customer_name"`
	CustomerPhone  string              `json:"customer_phone,omitempty"`
	VehiclePlate   string              `json:"vehicle_plate"`
	VehicleModel   string              `json:"vehicle_model,omitempty"`
	Description    string              `json:"description,omitempty"`
	LaborCostCents int64               `json:"labor_cost_cents"`
	Parts          []JobOrderPartInput `json:"parts,omitempty"`
}

type JobOrderUpdateRequest struct {
	MechanicID     *string              `json:"mechanic_id,omitempty"`
	CustomerName   *string              `json:"customer_name,omitempty"`
	CustomerPhone  *string              `json:"customer_phone,omitempty"`
	VehiclePlate   *string              `json:"vehicle_plate,omitempty"`
	VehicleModel   *string              `json:"vehicle_model,omitempty"`
	Description    *string              `json:"description,omitempty"`
	LaborCostCents *int64               `json:"labor_cost_cents,omitempty"`
	Parts          *[]JobOrderPartInput `json:"parts,omitempty"`
	Status         *string              `json:"status,omitempty"`
}

type JobOrderStatusRequest struct {
	Status string `json:"status"`
}

type JobOrderFilter struct {
	BranchID   string
	MechanicID string
	Status     string
	From       time.Time
	To         time.Time
}

type Reservation struct {
	ID            string            `json:"id"`
	Number        string            `json:"number"`
	BranchID      string            `json:"branch_id"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	Status        string            `json:"status"`
	Notes         string            `json:"notes,omitempty"`
	TotalCents    int64             `json:"total_cents"`
	QRToken       string            `json:"qr_token"`
	SaleID        string            `json:"sale_id,omitempty"`
	CreatedBy     string            `json:"created_by"`
	MechanicIDs   []string          `json:"mechanic_ids,omitempty"`
	Items         []ReservationItem `json:"items"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type ReservationItem struct {
	ID             string `json:"id"`
	ReservationID  string `json:"reservation_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	ProductType    string `json:"product_type"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type ReservationCreateRequest struct {
	BranchID      string            `json:"branch_id"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	Notes         string            `json:"notes,omitempty"`
	Items         []SaleLineRequest `json:"items"`
	MechanicIDs   []string          `json:"mechanic_ids,omitempty"`
}

type ReservationStatusRequest struct {
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

type ReservationStatusResponse struct {
	Reservation Reservation `json:"reservation"`
	Sale        *Sale       `json:"sale,omitempty"`
}

type ReservationFilter struct {
	BranchID string
	Status   string
	From     time.Time
	To       time.Time
}

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

const (
	ReservationStatusPending   = "pending"
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusCompleted = "completed"
	ReservationStatusCancelled = "cancelled"
)

func IsJobStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusCancelled:
		return true
	}
	return false
}

func IsReservationStatus(status string) bool {
	switch status {
	case ReservationStatusPending, ReservationStatusConfirmed, ReservationStatusCompleted, ReservationStatusCancelled:
		return true
	}
	return false
}

func IsFinalReservationStatus(status string) bool {
	return status == ReservationStatusCompleted || status == ReservationStatusCancelled
}

// LaborCredit reports the mechanic and amount a job order has credited. Only a
// completed job with a mechanic holds credit.
func LaborCredit(job *JobOrder) (string, int64) {
	if job == nil || job.Status != JobStatusCompleted || job.MechanicID == "" {
		return "", 0
	}
	return job.MechanicID, job.LaborCostCents
}

// SaleItemsFromReservation copies reservation lines into sale lines 1:1.
func SaleItemsFromReservation(items []ReservationItem) []SaleItem {
	result := make([]SaleItem, len(items))
	for i, item := range items {
		result[i] = SaleItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			ProductType:    item.ProductType,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
		}
	}
	return result
}

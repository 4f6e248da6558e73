package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the payment order status
type OrderStatus string

const (
	OrderCreated OrderStatus = "CREATED"
	OrderPaid    OrderStatus = "PAID"
	OrderFailed  OrderStatus = "FAILED"
)

// PaymentStatus represents the payment transaction status
type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentCaptured   PaymentStatus = "CAPTURED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// paymentStatusRank orders transaction statuses so that a stale re-delivery
// can never move a transaction backwards (e.g. CAPTURED -> AUTHORIZED).
var paymentStatusRank = map[PaymentStatus]int{
	PaymentAuthorized: 1,
	PaymentCaptured:   2,
	PaymentFailed:     2,
	PaymentRefunded:   3,
}

// CanTransition reports whether a transaction in status from may move to
// status to. Equal-rank or backwards deliveries are idempotent no-ops, and
// only a captured payment can become refunded.
func CanTransition(from, to PaymentStatus) bool {
	if to == PaymentRefunded {
		return from == PaymentCaptured
	}
	return paymentStatusRank[to] > paymentStatusRank[from]
}

// RefundStatus represents the refund transaction status
type RefundStatus string

const (
	RefundCreated   RefundStatus = "CREATED"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundFailed    RefundStatus = "FAILED"
)

// JSONB custom type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(j))
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*j = JSONB(m)
	return nil
}

// PaymentOrder represents a gateway-side order. It is created when a payment
// is initiated and afterwards mutated only by the webhook pipeline.
type PaymentOrder struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	GatewayOrderID  string      `gorm:"type:varchar(255);not null;uniqueIndex:idx_payment_orders_gateway_order" json:"gatewayOrderId"`
	Amount          float64     `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency        string      `gorm:"type:varchar(3);default:'INR'" json:"currency"`
	Status          OrderStatus `gorm:"type:varchar(20);not null;index:idx_payment_orders_status" json:"status"`
	UserID          string      `gorm:"type:varchar(255);not null;index:idx_payment_orders_user" json:"userId"`
	BusinessOrderID *string     `gorm:"type:varchar(255);index:idx_payment_orders_business_order" json:"businessOrderId,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	// Relationships
	Transactions []PaymentTransaction `gorm:"foreignKey:PaymentOrderID" json:"transactions,omitempty"`
}

// TableName specifies the table name for PaymentOrder
func (PaymentOrder) TableName() string {
	return "payment_orders"
}

// PaymentTransaction represents one gateway payment attempt. The gateway
// payment ID is the idempotency key: at most one row exists per reference,
// re-deliveries update it in place.
type PaymentTransaction struct {
	ID               uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PaymentOrderID   uuid.UUID     `gorm:"type:uuid;not null;index:idx_payment_transactions_order" json:"paymentOrderId"`
	GatewayPaymentID string        `gorm:"type:varchar(255);not null;uniqueIndex:idx_payment_transactions_gateway_payment" json:"gatewayPaymentId"`
	Amount           float64       `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency         string        `gorm:"type:varchar(3);default:'INR'" json:"currency"`
	Status           PaymentStatus `gorm:"type:varchar(20);not null;index:idx_payment_transactions_status" json:"status"`
	PaymentMethod    string        `gorm:"type:varchar(50)" json:"paymentMethod,omitempty"`
	GatewayName      string        `gorm:"type:varchar(50);default:'razorpay'" json:"gatewayName"`

	// Fee metadata reported by the gateway (opaque)
	FeeDetails JSONB `gorm:"type:jsonb" json:"feeDetails,omitempty"`

	CapturedAt *time.Time `json:"capturedAt,omitempty"`
	RefundedAt *time.Time `json:"refundedAt,omitempty"`

	FailureCode    string `gorm:"type:varchar(100)" json:"failureCode,omitempty"`
	FailureMessage string `gorm:"type:text" json:"failureMessage,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_payment_transactions_created" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	// Relationships
	PaymentOrder *PaymentOrder   `gorm:"foreignKey:PaymentOrderID" json:"paymentOrder,omitempty"`
	Refunds      []PaymentRefund `gorm:"foreignKey:PaymentTransactionID" json:"refunds,omitempty"`
}

// TableName specifies the table name for PaymentTransaction
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// PaymentRefund represents one gateway refund, deduplicated by the gateway
// refund ID with the same create-or-update discipline as transactions.
type PaymentRefund struct {
	ID                   uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	GatewayRefundID      string       `gorm:"type:varchar(255);not null;uniqueIndex:idx_payment_refunds_gateway_refund" json:"gatewayRefundId"`
	PaymentTransactionID uuid.UUID    `gorm:"type:uuid;not null;index:idx_payment_refunds_transaction" json:"paymentTransactionId"`
	Amount               float64      `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency             string       `gorm:"type:varchar(3);default:'INR'" json:"currency"`
	Status               RefundStatus `gorm:"type:varchar(20);not null;index:idx_payment_refunds_status" json:"status"`
	Reason               string       `gorm:"type:varchar(255)" json:"reason,omitempty"`
	ProcessedAt          *time.Time   `json:"processedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	// Relationships
	PaymentTransaction *PaymentTransaction `gorm:"foreignKey:PaymentTransactionID" json:"paymentTransaction,omitempty"`
}

// TableName specifies the table name for PaymentRefund
func (PaymentRefund) TableName() string {
	return "payment_refunds"
}

// AuditActor is the actor recorded for every pipeline-written audit entry.
const AuditActor = "system-webhook-handler"

// AuditLog is an immutable record of a state transition applied by the
// pipeline, written inside the same database transaction as the transition
// it describes.
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	EntityType string    `gorm:"type:varchar(50);not null;index:idx_audit_logs_entity" json:"entityType"`
	EntityID   string    `gorm:"type:varchar(255);not null;index:idx_audit_logs_entity" json:"entityId"`
	Action     string    `gorm:"type:varchar(100);not null" json:"action"`
	Changes    JSONB     `gorm:"type:jsonb" json:"changes,omitempty"`
	Actor      string    `gorm:"type:varchar(100);not null" json:"actor"`
	CreatedAt  time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_logs_created" json:"createdAt"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

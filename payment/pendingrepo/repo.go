package pendingrepo

import (
	"context"
	"time"

	"github.com/jrsteele09/go-course-storefront/cart"
)

// PendingPayment is the payment a member was redirected to pay for. It lets a
// restarted client pick the attempt back up.
type PendingPayment struct {
	MemberID       int64       `json:"memberId"`
	PaymentID      string      `json:"paymentId"`
	PartnerOrderID string      `json:"partnerOrderId"`
	ItemName       string      `json:"itemName"`
	TotalAmount    int64       `json:"totalAmount"`
	Items          []cart.Item `json:"orderItems"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type Repo interface {
	Upsert(ctx context.Context, pending *PendingPayment, ttl time.Duration) error
	Get(ctx context.Context, memberID int64) (*PendingPayment, error)
	Delete(ctx context.Context, memberID int64) error
}

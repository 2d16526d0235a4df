package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-course-storefront/internal/config"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/transport"
)

// redirectFields are the names different backend builds use for the payer URL,
// in order of preference
var redirectFields = []string{"next_redirect_pc_url", "nextRedirectPcUrl", "pc_url", "redirectUrl"}

// ReadyRequest is the payment-intent request body
type ReadyRequest struct {
	MemberID       int64   `json:"memberId"`
	LectureIDs     []int64 `json:"lectureIds"`
	PartnerOrderID string  `json:"partnerOrderId"`
	PartnerUserID  string  `json:"partnerUserId"`
	ItemName       string  `json:"itemName"`
	TotalAmount    int64   `json:"totalAmount"`
}

// Validate checks the fields the backend requires
func (r ReadyRequest) Validate() error {
	var missing []string
	if r.MemberID == 0 {
		missing = append(missing, "memberId")
	}
	if len(r.LectureIDs) == 0 {
		missing = append(missing, "lectureIds")
	}
	if r.ItemName == "" {
		missing = append(missing, "itemName")
	}
	if len(missing) > 0 {
		return apperrors.Wrapf(apperrors.ErrValidation, "missing payment fields %v", missing)
	}
	if r.TotalAmount <= 0 {
		return apperrors.Wrapf(apperrors.ErrValidation, "total amount must be positive")
	}
	return nil
}

// Ready is the backend's answer to a payment-intent request
type Ready struct {
	PaymentID   string
	RedirectURL string
}

// Order is an entry of the member's order history
type Order struct {
	PaymentID  FlexibleID `json:"paymentId"`
	ItemName   string     `json:"itemName"`
	Amount     int64      `json:"amount"`
	LectureIDs []int64    `json:"lectureIds,omitempty"`
	ApprovedAt string     `json:"approvedAt,omitempty"`
}

// Backend is the payment API as seen through the session gateway.
type Backend struct {
	client transport.Doer
	config config.PaymentConfig
}

func NewBackend(client transport.Doer, cfg config.PaymentConfig) *Backend {
	return &Backend{client: client, config: cfg}
}

// Ready requests a payment intent. The backend-issued payment id is required.
func (b *Backend) Ready(ctx context.Context, req ReadyRequest) (Ready, error) {
	if err := req.Validate(); err != nil {
		return Ready{}, err
	}

	resp, err := b.client.Do(ctx, transport.NewRequest(http.MethodPost, path.Join(b.config.GetPaymentsPath(), "ready"), req))
	if err != nil {
		return Ready{}, err
	}

	var data map[string]json.RawMessage
	ok, err := resp.DecodeData(&data)
	if err != nil || !ok {
		return Ready{}, apperrors.Wrapf(apperrors.ErrPaymentPrepare, "[payment Ready] malformed response")
	}

	var ready Ready
	if raw, found := data["paymentId"]; found {
		var id FlexibleID
		if err := json.Unmarshal(raw, &id); err != nil {
			return Ready{}, apperrors.Wrapf(apperrors.ErrNoPaymentID, "[payment Ready] unreadable paymentId")
		}
		ready.PaymentID = string(id)
	}
	if ready.PaymentID == "" {
		return Ready{}, apperrors.ErrNoPaymentID
	}
	ready.RedirectURL = redirectURL(data)
	return ready, nil
}

// Approve settles an authorised payment with the payer's token and returns the settlement body
func (b *Backend) Approve(ctx context.Context, paymentID, pgToken string) (json.RawMessage, error) {
	body := map[string]string{"paymentId": paymentID, "pgToken": pgToken}
	resp, err := b.client.Do(ctx, transport.NewRequest(http.MethodPost, path.Join(b.config.GetPaymentsPath(), "approve"), body))
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	ok, err := resp.DecodeData(&result)
	if err != nil || !ok {
		return nil, apperrors.Wrapf(apperrors.ErrPaymentApprove, "[payment Approve] malformed response")
	}
	return result, nil
}

func (b *Backend) Cancel(ctx context.Context, paymentID string) error {
	p := path.Join(b.config.GetPaymentsPath(), paymentID, "cancel")
	_, err := b.client.Do(ctx, transport.NewRequest(http.MethodPost, p, nil))
	return err
}

func (b *Backend) OrderHistory(ctx context.Context, memberID int64) ([]Order, error) {
	p := path.Join(b.config.GetOrdersPath(), "history", strconv.FormatInt(memberID, 10))
	resp, err := b.client.Do(ctx, transport.NewRequest(http.MethodGet, p, nil))
	if err != nil {
		return nil, err
	}

	var orders []Order
	if _, err := resp.DecodeData(&orders); err != nil {
		return nil, fmt.Errorf("[payment OrderHistory] decode: %w", err)
	}
	return orders, nil
}

func redirectURL(data map[string]json.RawMessage) string {
	for _, field := range redirectFields {
		raw, ok := data[field]
		if !ok {
			continue
		}
		var u string
		if json.Unmarshal(raw, &u) == nil && u != "" {
			return u
		}
	}
	return ""
}

// newPartnerOrderID builds the merchant-side order reference
func newPartnerOrderID(now time.Time) string {
	return fmt.Sprintf("ORDER_%d_%s", now.UnixMilli(), uuid.NewString()[:6])
}

// FlexibleID accepts an identifier sent as either a JSON string or number
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string {
	return string(id)
}

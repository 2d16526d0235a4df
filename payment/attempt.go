package payment

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jrsteele09/go-course-storefront/cart"
)

type Status string

const (
	StatusIdle          Status = "idle"
	StatusPreparing     Status = "preparing"
	StatusAwaitingPayer Status = "awaitingPayer"
	StatusApproving     Status = "approving"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// IsTerminal reports whether the attempt has ended
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether an attempt is in progress
func (s Status) IsActive() bool {
	return s == StatusPreparing || s == StatusAwaitingPayer || s == StatusApproving
}

// Attempt is a snapshot of one checkout.
// PopupOpen is only ever true while Status is StatusAwaitingPayer.
type Attempt struct {
	PaymentID      string      `json:"paymentId,omitempty"`
	PartnerOrderID string      `json:"partnerOrderId,omitempty"`
	ItemName       string      `json:"itemName,omitempty"`
	Items          []cart.Item `json:"orderItems,omitempty"`
	TotalAmount    int64       `json:"totalAmount,omitempty"`
	Status         Status      `json:"status"`
	ErrorMessage   string      `json:"errorMessage,omitempty"`
	RedirectURL    string      `json:"redirectUrl,omitempty"`
	PopupOpen      bool        `json:"popupOpen"`
	Receipt        *Receipt    `json:"receipt,omitempty"`
}

func (a Attempt) clone() Attempt {
	c := a
	c.Items = slices.Clone(a.Items)
	if a.Receipt != nil {
		r := a.Receipt.clone()
		c.Receipt = &r
	}
	return c
}

// Receipt records a settled payment
type Receipt struct {
	PaymentID      string          `json:"paymentId"`
	PartnerOrderID string          `json:"partnerOrderId"`
	ItemName       string          `json:"itemName"`
	Items          []cart.Item     `json:"orderItems"`
	TotalAmount    int64           `json:"totalAmount"`
	SettledAt      time.Time       `json:"settledAt"`
	Result         json.RawMessage `json:"result,omitempty"`
}

func (r Receipt) clone() Receipt {
	c := r
	c.Items = slices.Clone(r.Items)
	c.Result = slices.Clone(r.Result)
	return c
}

// AttemptError describes why an attempt ended in failure. It matches its Kind
// sentinel and the underlying cause with errors.Is.
type AttemptError struct {
	Status  Status
	Kind    error
	Message string
	Cause   error
}

func (e *AttemptError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v", e.Kind)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *AttemptError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// itemName summarises the order the way the payment provider displays it
func itemName(items []cart.Item) string {
	if len(items) == 1 {
		return items[0].Title
	}
	return fmt.Sprintf("%s and %d more", items[0].Title, len(items)-1)
}

func totalAmount(items []cart.Item) int64 {
	var total int64
	for _, item := range items {
		total += item.Price
	}
	return total
}

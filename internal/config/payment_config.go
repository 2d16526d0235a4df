package config

import "time"

type PaymentConfig interface {
	GetPaymentsPath() string
	GetOrdersPath() string
	GetPaymentTimeout() time.Duration
	GetCancelTimeout() time.Duration
	GetPendingPaymentTTL() time.Duration
}

type Payment struct {
	vars *EnvVars
}

var _ PaymentConfig = Payment{}

func (p Payment) GetPaymentsPath() string {
	if p.vars == nil || p.vars.PaymentsPath == "" {
		return "/payments"
	}
	return p.vars.PaymentsPath
}

func (p Payment) GetOrdersPath() string {
	if p.vars == nil || p.vars.OrdersPath == "" {
		return "/v1/orders"
	}
	return p.vars.OrdersPath
}

// GetPaymentTimeout is how long a collaborator waits on the payer window before forcing it closed
func (p Payment) GetPaymentTimeout() time.Duration {
	if p.vars == nil || p.vars.PaymentTimeout <= 0 {
		return 10 * time.Minute
	}
	return p.vars.PaymentTimeout
}

func (p Payment) GetCancelTimeout() time.Duration {
	if p.vars == nil || p.vars.CancelTimeout <= 0 {
		return 5 * time.Second
	}
	return p.vars.CancelTimeout
}

func (p Payment) GetPendingPaymentTTL() time.Duration {
	return 2 * p.GetPaymentTimeout()
}

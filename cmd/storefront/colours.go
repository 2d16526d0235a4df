package main

import "github.com/jrsteele09/go-course-storefront/payment"

const (
	Red        = "\033[31m"
	Green      = "\033[32m"
	Yellow     = "\033[33m"
	Gray       = "\033[90m" // Bright black, often appears as gray
	ResetColor = "\033[0m"
)

var kindColors = map[payment.MessageKind]string{
	payment.KindSuccess: Green,
	payment.KindWarning: Yellow,
	payment.KindError:   Red,
}

func colourise(kind payment.MessageKind, s string) string {
	colour, ok := kindColors[kind]
	if !ok {
		return s
	}
	return colour + s + ResetColor
}

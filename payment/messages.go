package payment

// MessageKind is how a status message should be presented
type MessageKind string

const (
	KindSuccess MessageKind = "success"
	KindWarning MessageKind = "warning"
	KindError   MessageKind = "error"
)

// Message is the user-facing summary of a finished attempt
type Message struct {
	Title string      `json:"title"`
	Text  string      `json:"text"`
	Kind  MessageKind `json:"kind"`
}

// StatusMessage describes how an attempt ended. Anything other than success
// or cancellation is reported as a failure.
func StatusMessage(status Status) Message {
	switch status {
	case StatusSucceeded:
		return Message{Title: "Payment complete", Text: "Your courses are ready in your library.", Kind: KindSuccess}
	case StatusCancelled:
		return Message{Title: "Payment cancelled", Text: "The payment was cancelled. Your cart has been kept.", Kind: KindWarning}
	default:
		return Message{Title: "Payment failed", Text: "Something went wrong with the payment. Please try again.", Kind: KindError}
	}
}

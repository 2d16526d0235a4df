package popup

func SetBrowserFunc(o *BrowserOpener, fn func(url string) error) {
	o.open = fn
}

const SubscriberBuffer = subscriberBuffer

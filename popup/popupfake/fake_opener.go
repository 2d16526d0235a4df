package popupfake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-course-storefront/popup"
)

var _ popup.Opener = (*FakeOpener)(nil)

// FakeOpener records opened URLs and hands out FakeWindows.
type FakeOpener struct {
	// Blocked makes Open return no window, the way a browser refuses a popup
	Blocked bool
	// Fail makes Open return an error
	Fail bool

	lock    sync.Mutex
	windows []*FakeWindow
	urls    []string
	opened  chan *FakeWindow
}

func NewFakeOpener() *FakeOpener {
	return &FakeOpener{opened: make(chan *FakeWindow, 16)}
}

func (o *FakeOpener) Open(_ context.Context, url string) (popup.Window, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.urls = append(o.urls, url)
	if o.Fail {
		return nil, errors.New("no browser available")
	}
	if o.Blocked {
		return nil, nil
	}

	w := &FakeWindow{URL: url}
	o.windows = append(o.windows, w)
	select {
	case o.opened <- w:
	default:
	}
	return w, nil
}

// Opened delivers each window as it is opened
func (o *FakeOpener) Opened() <-chan *FakeWindow {
	return o.opened
}

func (o *FakeOpener) URLs() []string {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]string(nil), o.urls...)
}

func (o *FakeOpener) Windows() []*FakeWindow {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]*FakeWindow(nil), o.windows...)
}

// Last returns the most recently opened window, or nil
func (o *FakeOpener) Last() *FakeWindow {
	o.lock.Lock()
	defer o.lock.Unlock()
	if len(o.windows) == 0 {
		return nil
	}
	return o.windows[len(o.windows)-1]
}

// FakeWindow is a window whose closure is driven by the test.
type FakeWindow struct {
	URL        string
	closed     atomic.Bool
	closeCalls atomic.Int32
}

func (w *FakeWindow) Closed() bool {
	return w.closed.Load()
}

// Close closes the window as its opener would
func (w *FakeWindow) Close() error {
	w.closeCalls.Add(1)
	w.closed.Store(true)
	return nil
}

// CloseByUser closes the window without the opener's involvement
func (w *FakeWindow) CloseByUser() {
	w.closed.Store(true)
}

// CloseCalls counts Close calls made by the opener
func (w *FakeWindow) CloseCalls() int {
	return int(w.closeCalls.Load())
}

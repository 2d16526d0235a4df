package popup

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// BrowserOpener shows the payer page in the system browser. A browser tab
// cannot be observed from here, so a window counts as closed once the return
// pages or the close beacon release it, or the opener closes it.
type BrowserOpener struct {
	open func(url string) error
	log  zerolog.Logger

	mu      sync.Mutex
	windows []*browserWindow
}

var (
	_ Opener   = (*BrowserOpener)(nil)
	_ Releaser = (*BrowserOpener)(nil)
)

func NewBrowserOpener(logger zerolog.Logger) *BrowserOpener {
	return &BrowserOpener{
		open: browser.OpenURL,
		log:  logger.With().Str("component", "browser").Logger(),
	}
}

func (o *BrowserOpener) Open(_ context.Context, url string) (Window, error) {
	if err := o.open(url); err != nil {
		o.log.Warn().Err(err).Msg("could not open the system browser")
		return nil, err
	}

	w := &browserWindow{}
	o.mu.Lock()
	o.windows = append(o.windows, w)
	o.mu.Unlock()
	return w, nil
}

// Release marks every window opened so far as closed
func (o *BrowserOpener) Release() {
	o.mu.Lock()
	windows := o.windows
	o.windows = nil
	o.mu.Unlock()

	for _, w := range windows {
		w.closed.Store(true)
	}
}

type browserWindow struct {
	closed atomic.Bool
}

func (w *browserWindow) Closed() bool {
	return w.closed.Load()
}

// Close stops tracking the tab; the tab itself stays with the user
func (w *browserWindow) Close() error {
	w.closed.Store(true)
	return nil
}

package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// chromedpLauncher starts one Chrome process per Launch call via a
// dedicated exec allocator.
type chromedpLauncher struct {
	opts []chromedp.ExecAllocatorOption
}

type chromedpProcess struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func (l *chromedpLauncher) Launch(_ context.Context) (Process, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions forces the browser process to start now, so
	// launch failures surface here instead of on first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &chromedpProcess{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (p *chromedpProcess) Context() context.Context { return p.browserCtx }

func (p *chromedpProcess) Done() <-chan struct{} { return p.browserCtx.Done() }

func (p *chromedpProcess) Close() error {
	p.browserCancel()
	p.allocCancel()
	return nil
}

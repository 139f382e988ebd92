package cadastro

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// AutoRefresher periodically reconciles one tab while it is visible.
type AutoRefresher struct {
	client       *Client
	tab          string
	interval     time.Duration
	onChange     func([]*Record)
	ticker       *time.Ticker
	done         chan bool
	refreshMutex sync.Mutex
	visible      atomic.Bool
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// Watch starts an AutoRefresher for tab using the configured interval.
// onChange receives the records whenever a tick resyncs the tab. The
// refresher is stopped by Close.
func (c *Client) Watch(tab string, onChange func([]*Record)) (*AutoRefresher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	r := newAutoRefresher(c, tab, c.config.RefreshInterval, onChange)
	c.refreshers = append(c.refreshers, r)
	r.Start()
	return r, nil
}

func newAutoRefresher(client *Client, tab string, interval time.Duration, onChange func([]*Record)) *AutoRefresher {
	r := &AutoRefresher{
		client:   client,
		tab:      tab,
		interval: interval,
		onChange: onChange,
		done:     make(chan bool),
	}
	r.visible.Store(true)
	return r
}

// Start begins the periodic refresh.
func (r *AutoRefresher) Start() {
	r.ticker = time.NewTicker(r.interval)
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		for {
			select {
			case <-r.ticker.C:
				r.performRefresh()
			case <-r.done:
				return
			}
		}
	}()
}

// SetVisible pauses ticks while false, mirroring a hidden page.
func (r *AutoRefresher) SetVisible(visible bool) {
	r.visible.Store(visible)
}

// performRefresh reconciles the tab, skipping the tick if the previous one
// is still running.
func (r *AutoRefresher) performRefresh() {
	if !r.visible.Load() {
		return
	}
	if !r.refreshMutex.TryLock() {
		return
	}
	defer r.refreshMutex.Unlock()

	records, changed, err := r.client.reconcile(context.Background(), r.tab, false, false)
	if err != nil {
		r.client.log.Warn().Err(err).Str("tab", r.tab).Msg("Auto refresh failed")
		return
	}
	if changed && r.onChange != nil {
		r.onChange(records)
	}
}

// Stop stops the refresher and waits for an ongoing refresh.
func (r *AutoRefresher) Stop() {
	r.stopOnce.Do(func() {
		if r.ticker != nil {
			r.ticker.Stop()
		}
		close(r.done)
	})

	r.wg.Wait()

	r.refreshMutex.Lock()
	r.refreshMutex.Unlock()
}

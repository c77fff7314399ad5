package strategy

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (c *Cache) cacheFirst(r *http.Request) (*http.Response, error) {
	if e, ok := c.Match(r.Context(), Key(r)); ok {
		return respond(r, e), nil
	}
	resp, _, err := c.fetchAndStore(r)
	return resp, err
}

func (c *Cache) cacheOnly(r *http.Request) (*http.Response, error) {
	if e, ok := c.Match(r.Context(), Key(r)); ok {
		return respond(r, e), nil
	}
	return nil, ErrNoResponse
}

type fetchResult struct {
	resp *http.Response
	err  error
}

// networkFirst races the network against the configured timeout. A network
// response arriving after the timeout still updates storage.
func (c *Cache) networkFirst(r *http.Request) (*http.Response, error) {
	req := r.Clone(context.WithoutCancel(r.Context()))

	ch := make(chan fetchResult, 1)
	go func() {
		resp, _, err := c.fetchAndStore(req)
		ch <- fetchResult{resp: resp, err: err}
	}()

	var timeout <-chan time.Time
	if d := c.desc.Options.NetworkTimeout(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-ch:
		if res.err == nil {
			return res.resp, nil
		}
		if e, ok := c.Match(r.Context(), Key(r)); ok {
			c.logger.Debug("network failed, serving cached", zap.String("key", Key(r)), zap.Error(res.err))
			return respond(r, e), nil
		}
		return nil, res.err
	case <-timeout:
		if e, ok := c.Match(r.Context(), Key(r)); ok {
			c.logger.Debug("network timed out, serving cached", zap.String("key", Key(r)))
			c.bg.Add(1)
			go func() {
				defer c.bg.Done()
				if res := <-ch; res.resp != nil {
					res.resp.Body.Close()
				}
			}()
			return respond(r, e), nil
		}
		select {
		case res := <-ch:
			return res.resp, res.err
		case <-r.Context().Done():
			go func() {
				if res := <-ch; res.resp != nil {
					res.resp.Body.Close()
				}
			}()
			return nil, r.Context().Err()
		}
	}
}

func (c *Cache) staleWhileRevalidate(r *http.Request) (*http.Response, error) {
	if e, ok := c.Match(r.Context(), Key(r)); ok {
		c.revalidate(r)
		return respond(r, e), nil
	}
	resp, _, err := c.fetchAndStore(r)
	return resp, err
}

// revalidate refreshes the entry for r in the background, at most once at a
// time per key.
func (c *Cache) revalidate(r *http.Request) {
	req := r.Clone(context.WithoutCancel(r.Context()))
	key := Key(r)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		_, err, _ := c.group.Do(key, func() (any, error) {
			resp, _, err := c.fetchAndStore(req)
			if err != nil {
				return nil, err
			}
			resp.Body.Close()
			return nil, nil
		})
		if err != nil {
			c.logger.Debug("revalidate failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

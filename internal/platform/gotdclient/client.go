// Package gotdclient is the production SessionClient implementation on top of
// gotd/td. One Client wraps one persisted session file; authorization is
// created externally and only verified here.
package gotdclient

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"golang.org/x/net/proxy"

	"tgmirror/internal/errs"
	"tgmirror/pkg/telegramapi"
)

// Options configures the factory.
type Options struct {
	APIID       int
	APIHash     string
	SessionsDir string
	// ProxyURL routes MTProto traffic through a SOCKS proxy when set.
	ProxyURL string
}

// Factory builds the SessionFactory the pool consumes.
func Factory(opts Options) (telegramapi.SessionFactory, error) {
	resolver, err := buildResolver(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	return func(name string) (telegramapi.SessionClient, error) {
		storage := &session.FileStorage{
			Path: filepath.Join(opts.SessionsDir, name+".session"),
		}
		tgOpts := telegram.Options{SessionStorage: storage}
		if resolver != nil {
			tgOpts.Resolver = resolver
		}
		return &Client{
			name:     name,
			client:   telegram.NewClient(opts.APIID, opts.APIHash, tgOpts),
			channels: make(map[string]*channelRef),
		}, nil
	}, nil
}

func buildResolver(proxyURL string) (dcs.Resolver, error) {
	if proxyURL == "" {
		return nil, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	var auth *proxy.Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy dialer: %w", err)
	}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}
	return dcs.Plain(dcs.PlainOptions{Dial: dial}), nil
}

// Client is one live MTProto connection.
type Client struct {
	name   string
	client *telegram.Client

	mu       sync.Mutex
	api      *tg.Client
	stop     context.CancelFunc
	runDone  chan error
	channels map[string]*channelRef
}

// Start connects in the background and verifies the stored authorization.
// The connection stays up until Stop.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		return wrapErr(fmt.Errorf("session %s failed to connect: %w", c.name, err))
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		cancel()
		return wrapErr(fmt.Errorf("session %s auth status: %w", c.name, err))
	}
	if !status.Authorized {
		cancel()
		return errs.Business(fmt.Sprintf("session %s is not authorized, create it with the auth wizard first", c.name))
	}

	c.mu.Lock()
	c.api = c.client.API()
	c.stop = cancel
	c.runDone = done
	c.mu.Unlock()
	log.Printf("[Session %s] authorized and connected", c.name)
	return nil
}

// Stop tears the connection down and waits for the run loop to exit.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.runDone
	c.stop, c.runDone = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return fmt.Errorf("session %s: already closed", c.name)
	}
	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetMe identifies the account behind the session.
func (c *Client) GetMe(ctx context.Context) (*telegramapi.User, error) {
	self, err := c.client.Self(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &telegramapi.User{
		ID:       self.ID,
		Username: self.Username,
		Premium:  self.Premium,
	}, nil
}

// CurrentDC reports the datacenter of the active connection.
func (c *Client) CurrentDC(ctx context.Context) (int, error) {
	return c.client.Config().ThisDC, nil
}

func (c *Client) rawAPI() (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil, fmt.Errorf("session %s: not connected", c.name)
	}
	return c.api, nil
}

// wrapErr converts gotd rate-limit errors into the pool-visible flood-wait
// type; everything else passes through.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &telegramapi.FloodWaitError{Wait: wait}
	}
	return err
}

package natsutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/duashare/project/internal/messaging"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]chan struct{}
}

func ConnectJetStream(url, name string, logger zerolog.Logger) (*Client, error) {
	client := &Client{listeners: map[uint64]chan struct{}{}}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
			client.notifyReconnect()
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	client.Conn = conn
	client.JS = js
	return client, nil
}

func ConnectJetStreamWithRetry(url, name string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url, name, logger)
		if err == nil {
			return client, nil
		}
		lastErr = err
		logger.Debug().Err(err).Msg("waiting for jetstream")
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

// NotifyReconnect returns a channel that receives a value after every reconnect.
// Messages published while the connection was down may have been missed by push subscriptions.
func (c *Client) NotifyReconnect() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.mu.Lock()
	if c.listeners == nil {
		c.listeners = map[uint64]chan struct{}{}
	}
	c.nextID++
	id := c.nextID
	c.listeners[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) notifyReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

type Publisher interface {
	Publish(subject string, payload []byte, msgID string) error
}

type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

// Publish sets Nats-Msg-Id so a retried publish is stored once.
func (p JetStreamPublisher) Publish(subject string, payload []byte, msgID string) error {
	_, err := p.JS.Publish(subject, payload, nats.MsgId(msgID))
	return err
}

package natsutil

import (
	"testing"
	"time"
)

func TestNotifyReconnect(t *testing.T) {
	c := &Client{}
	ch, stop := c.NotifyReconnect()

	c.notifyReconnect()
	c.notifyReconnect()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected reconnect notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}

	stop()
	c.notifyReconnect()
	select {
	case <-ch:
		t.Fatal("stopped listener must not be notified")
	default:
	}
}

// Package broker fans frames out to every server instance and keeps the
// shared roster of registered usernames.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// HeartbeatInterval is how often a server should call Heartbeat.
const HeartbeatInterval = 10 * time.Second

// Broker 广播与在线名单
//
// A name joined by several connections appears once in the roster and stays
// until every one of them has left. Roster order is first-join order.
type Broker interface {
	// Publish delivers frame to every subscriber on every instance,
	// including this one.
	Publish(ctx context.Context, frame string) error
	// Subscribe returns published frames until ctx is cancelled or the
	// broker is closed, at which point the channel is closed.
	Subscribe(ctx context.Context) (<-chan string, error)

	Join(ctx context.Context, name string) error
	Leave(ctx context.Context, name string) error
	Roster(ctx context.Context) ([]string, error)
	// Heartbeat keeps this instance's presence alive and drops names held
	// by instances that stopped. changed reports a roster change.
	Heartbeat(ctx context.Context) (changed bool, err error)

	Close() error
}

// Package stream connects to the stimulation device's marker stream. The
// NIC software publishes its event markers through a local websocket bridge;
// samples arrive as small JSON messages carrying the marker code and the
// device-clock timestamp.
package stream

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoStream indicates the bridge endpoint was unreachable. The trigger
// layer degrades to manual fallback when it sees this.
var ErrNoStream = errors.New("stream: no marker stream reachable")

// Sample is one inbound device marker.
type Sample struct {
	Code int `json:"code"`
	// Timestamp is the device clock time of the marker, in seconds.
	Timestamp float64 `json:"timestamp"`
}

// Inlet is an open subscription to the marker stream. Samples are delivered
// in arrival order on the channel returned by Samples; the channel closes
// when the stream ends or Close is called.
type Inlet struct {
	conn    *websocket.Conn
	samples chan Sample
	done    chan struct{}
	once    sync.Once
}

// Resolve dials the marker stream bridge at url, waiting at most wait for
// the handshake. It returns ErrNoStream when the endpoint cannot be reached.
func Resolve(url string, wait time.Duration) (*Inlet, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wait}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNoStream, url, err)
	}
	in := &Inlet{
		conn:    conn,
		samples: make(chan Sample, 64),
		done:    make(chan struct{}),
	}
	go in.readLoop()
	return in, nil
}

func (in *Inlet) readLoop() {
	defer close(in.samples)
	for {
		var s Sample
		if err := in.conn.ReadJSON(&s); err != nil {
			select {
			case <-in.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[stream] read error: %v", err)
				}
			}
			return
		}
		select {
		case in.samples <- s:
		case <-in.done:
			return
		}
	}
}

// Samples returns the inbound sample channel.
func (in *Inlet) Samples() <-chan Sample {
	return in.samples
}

// Close terminates the subscription. Safe to call more than once.
func (in *Inlet) Close() error {
	var err error
	in.once.Do(func() {
		close(in.done)
		err = in.conn.Close()
	})
	return err
}

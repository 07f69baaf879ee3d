////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrPortClosed is returned when posting to or reading from a closed
// MessagePort.
var ErrPortClosed = errors.New("message port is closed")

// MessagePort is one end of a MessageChannel. Messages posted on a port are
// delivered, in order, to the inbox of the port at the other end. Each message
// is copied on post so the sender may reuse its buffer.
//
// A port has no size limit; messages queue until they are read.
type MessagePort struct {
	// name describes the port. It is used for debugging and logging purposes.
	name string

	// remote is the entangled port that messages are delivered to.
	remote *MessagePort

	// inbox holds received messages that have not been read yet.
	inbox []MessageEvent

	// signal is poked every time the inbox changes or the port closes.
	signal chan struct{}

	closed    bool
	listening bool
	mux       sync.Mutex
}

// newMessagePort returns an unentangled port.
func newMessagePort(name string) *MessagePort {
	return &MessagePort{
		name:   name,
		signal: make(chan struct{}, 1),
	}
}

// Name returns the name of the port.
func (mp *MessagePort) Name() string { return mp.name }

// PostMessage sends a message from the port.
func (mp *MessagePort) PostMessage(message []byte) error {
	return mp.PostMessageTransfer(message, nil)
}

// PostMessageTransfer sends a message from the port and transfers ownership of
// the objects in transfer to the receiver.
func (mp *MessagePort) PostMessageTransfer(
	message []byte, transfer *Transfer) error {
	mp.mux.Lock()
	closed, remote := mp.closed, mp.remote
	mp.mux.Unlock()

	if closed {
		return errors.Wrapf(ErrPortClosed, "cannot post on port %q", mp.name)
	} else if remote == nil {
		return errors.Errorf("port %q is not entangled", mp.name)
	}

	return remote.enqueue(MessageEvent{
		data:     append([]byte(nil), message...),
		transfer: transfer,
		target:   remote,
	})
}

// enqueue adds the event to the inbox and wakes any reader.
func (mp *MessagePort) enqueue(e MessageEvent) error {
	mp.mux.Lock()
	defer mp.mux.Unlock()
	if mp.closed {
		return errors.Wrapf(ErrPortClosed, "cannot deliver to port %q", mp.name)
	}
	mp.inbox = append(mp.inbox, e)
	mp.poke()
	return nil
}

// poke signals a waiting reader. Must be called with the lock held.
func (mp *MessagePort) poke() {
	select {
	case mp.signal <- struct{}{}:
	default:
	}
}

// TryReadMessage returns the oldest unread message without blocking. Returns
// false if the inbox is empty.
func (mp *MessagePort) TryReadMessage() (MessageEvent, bool) {
	mp.mux.Lock()
	defer mp.mux.Unlock()
	return mp.pop()
}

// pop removes the oldest message from the inbox. Must be called with the lock
// held.
func (mp *MessagePort) pop() (MessageEvent, bool) {
	if len(mp.inbox) == 0 {
		return MessageEvent{}, false
	}
	e := mp.inbox[0]
	mp.inbox[0] = MessageEvent{}
	mp.inbox = mp.inbox[1:]

	// Leave the signal set for any other reader if messages remain
	if len(mp.inbox) > 0 {
		mp.poke()
	}
	return e, true
}

// ReadMessage blocks until a message is received, the port is closed, or the
// context is done. Messages already in the inbox are still returned after the
// port is closed, but not after the context is done.
func (mp *MessagePort) ReadMessage(ctx context.Context) (MessageEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return MessageEvent{}, err
		}

		mp.mux.Lock()
		e, ok := mp.pop()
		closed := mp.closed
		mp.mux.Unlock()
		if ok {
			return e, nil
		} else if closed {
			return MessageEvent{},
				errors.Wrapf(ErrPortClosed, "cannot read from port %q", mp.name)
		}

		select {
		case <-mp.signal:
		case <-ctx.Done():
			return MessageEvent{}, ctx.Err()
		}
	}
}

// Listen starts delivering all received messages on the returned channel until
// the context is done or the port is closed, at which point the channel is
// closed. Only one listener may be registered on a port.
func (mp *MessagePort) Listen(ctx context.Context) (<-chan MessageEvent, error) {
	mp.mux.Lock()
	if mp.listening {
		mp.mux.Unlock()
		return nil, errors.Errorf("port %q already has a listener", mp.name)
	}
	mp.listening = true
	mp.mux.Unlock()

	events := make(chan MessageEvent)
	go func() {
		defer func() {
			mp.mux.Lock()
			mp.listening = false
			mp.mux.Unlock()
			close(events)
		}()
		for {
			e, err := mp.ReadMessage(ctx)
			if err != nil {
				return
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// Close disconnects the port. Posting to or from a closed port fails. Unread
// messages remain readable.
func (mp *MessagePort) Close() {
	mp.mux.Lock()
	defer mp.mux.Unlock()
	if mp.closed {
		return
	}
	mp.closed = true
	mp.poke()
}

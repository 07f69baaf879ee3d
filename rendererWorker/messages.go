////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package rendererWorker

import (
	"github.com/pkg/errors"

	"gitlab.com/elixxir/blocking-renderer/worker"
)

// HandshakeMessage is the payload of a HandshakeTag message. Both fields are
// transferred with the message rather than serialised into it.
type HandshakeMessage struct {
	// Port is the worker's end of the dedicated channel. Rendered HTML is
	// posted on it and render requests may be received on it.
	Port *worker.MessagePort

	// Wake is notified after each rendered HTML result is posted on Port.
	Wake *worker.WakeCell
}

// RenderMessage is the JSON payload of a RenderTag message.
type RenderMessage struct {
	Lang string `json:"lang"`
	Code string `json:"code"`
}

// ShutdownMessage is the payload of a ShutdownTag message. It carries no data.
type ShutdownMessage struct{}

// RenderError is reported through the error callback for every render request
// that fails. A failed render posts no HTML and does not notify the wake cell,
// so this is the only sign that the request has finished.
type RenderError struct {
	Lang  string
	Label string
	Err   error
}

func (e *RenderError) Error() string {
	return "failed to render " + e.Label + ": " + e.Err.Error()
}

func (e *RenderError) Unwrap() error { return e.Err }

// Transfer returns the objects to transfer with a HandshakeTag message.
func (hm HandshakeMessage) Transfer() *worker.Transfer {
	return &worker.Transfer{Port: hm.Port, Wake: hm.Wake}
}

// handshakeFromTransfer builds the HandshakeMessage from the transferred
// objects of a received message.
func handshakeFromTransfer(t *worker.Transfer) (*HandshakeMessage, error) {
	if t == nil {
		return nil, errors.New("handshake has no transferred objects")
	} else if t.Port == nil {
		return nil, errors.New("handshake is missing the dedicated port")
	} else if t.Wake == nil {
		return nil, errors.New("handshake is missing the wake cell")
	}
	return &HandshakeMessage{Port: t.Port, Wake: t.Wake}, nil
}

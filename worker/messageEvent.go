////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

// MessageEvent is received from the channel returned by MessagePort.Listen or
// from MessagePort.ReadMessage.
type MessageEvent struct {
	data     []byte
	transfer *Transfer
	target   *MessagePort
}

// Data returns this event's payload. The slice is owned by the receiver.
func (e MessageEvent) Data() []byte { return e.data }

// Transfer returns the objects transferred with the message or nil if there
// were none.
func (e MessageEvent) Transfer() *Transfer { return e.transfer }

// Target returns the port that received the message.
func (e MessageEvent) Target() *MessagePort { return e.target }

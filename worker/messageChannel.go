////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

// MessageChannel is a pair of entangled MessagePort objects. A message posted
// on one port is received on the other.
type MessageChannel struct {
	port1, port2 *MessagePort
}

// NewMessageChannel returns a new MessageChannel object with two new
// MessagePort objects. The name is used as the prefix of each port's name when
// printing to logs.
func NewMessageChannel(name string) *MessageChannel {
	port1 := newMessagePort(name + "/1")
	port2 := newMessagePort(name + "/2")
	port1.remote = port2
	port2.remote = port1
	return &MessageChannel{port1: port1, port2: port2}
}

// Port1 returns the first port of the message channel. It is attached to
// the context that originated the channel.
func (mc *MessageChannel) Port1() *MessagePort { return mc.port1 }

// Port2 returns the second port of the message channel. It is attached to
// the context at the other end of the channel, which is usually transferred to
// it in a message.
func (mc *MessageChannel) Port2() *MessagePort { return mc.port2 }

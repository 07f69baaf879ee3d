////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Message is the outer message that contains the contents of each message sent
// to the worker. It is transmitted as JSON.
type Message struct {
	Tag  Tag    `json:"tag"`
	ID   uint64 `json:"id"`
	Data []byte `json:"data,omitempty"`
}

// Transfer holds objects whose ownership moves along with a message instead of
// being serialised into it. Either field may be nil.
type Transfer struct {
	Port *MessagePort
	Wake *WakeCell
}

// EncodeMessage packages the data into a JSON Message with the given tag and
// ID.
func EncodeMessage(tag Tag, id uint64, data []byte) ([]byte, error) {
	payload, err := json.Marshal(Message{Tag: tag, ID: id, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %T for %q", Message{}, tag)
	}
	return payload, nil
}

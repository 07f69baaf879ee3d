////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package utils

import (
	"encoding/hex"
	"fmt"

	"github.com/aquilax/truncate"
	"golang.org/x/crypto/blake2b"
)

const (
	// previewLen is the maximum length of a payload preview printed to logs.
	previewLen = 64

	// fingerprintLen is the size, in bytes, of a Fingerprint digest.
	fingerprintLen = 6
)

// Preview returns a quoted, length limited representation of the payload for
// use in logs and error messages. Long payloads are cut in the middle.
func Preview(data []byte) string {
	return truncate.Truncate(
		fmt.Sprintf("%q", data), previewLen, "...", truncate.PositionMiddle)
}

// Head returns the first n characters of s, followed by an ellipsis if s was
// cut.
func Head(s string, n int) string {
	return truncate.Truncate(s, n, "...", truncate.PositionEnd)
}

// Fingerprint returns a short hex digest that identifies the given parts. It
// is used to label log lines for a single request so that requests with the
// same preview can be told apart.
func Fingerprint(parts ...string) string {
	h, err := blake2b.New(fingerprintLen, nil)
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

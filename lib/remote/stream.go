// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
)

// StreamEncoder writes lifecycle events as a self-delimiting CBOR
// sequence. The frames need no length prefix: the decoder consumes one
// complete CBOR item per event and stops at EOF, which is exactly the
// framing a pipe between two devgrid processes needs.
type StreamEncoder struct {
	enc *cbor.Encoder
}

// NewStreamEncoder returns an encoder writing to w.
func NewStreamEncoder(w io.Writer) (*StreamEncoder, error) {
	mode, err := cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("building CBOR encoder: %w", err)
	}
	return &StreamEncoder{enc: mode.NewEncoder(w)}, nil
}

// Encode appends one event to the stream.
func (e *StreamEncoder) Encode(event lifecycle.Event) error {
	if err := e.enc.Encode(event); err != nil {
		return fmt.Errorf("encoding progress event: %w", err)
	}
	return nil
}

// DecodeStream reads events from r until EOF, invoking onEvent for
// each. A truncated trailing frame is an error: it means the producer
// died mid-write.
func DecodeStream(r io.Reader, onEvent func(lifecycle.Event)) error {
	dec := cbor.NewDecoder(r)
	for {
		var event lifecycle.Event
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding progress event: %w", err)
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
}

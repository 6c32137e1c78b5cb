package comm

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

var ErrSerializationOverflow = errors.New("encoded message exceeds size limit")

const DefaultMaxMessageBytes = 1 << 22

// Encode gob encodes v into its own message. maxBytes <= 0 disables the
// size limit.
func Encode[T any](v T, maxBytes int) (b []byte, err error) {
	var buf bytes.Buffer
	if err = gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	if maxBytes > 0 && buf.Len() > maxBytes {
		return nil, fmt.Errorf("%w: %T is %d bytes, limit %d", ErrSerializationOverflow, v, buf.Len(), maxBytes)
	}
	return buf.Bytes(), nil
}

func Decode[T any](b []byte) (v T, err error) {
	if err = gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		err = fmt.Errorf("decode %T: %w", v, err)
	}
	return
}

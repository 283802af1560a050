package archive

import (
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

const lz4Extension = ".lz4"

var errNotBytes = errors.New("lz4 codec handles []byte state only")

// lz4Codec stores a byte payload as an lz4 frame, so snapshots open with the
// stock lz4 tool.
type lz4Codec struct{}

func (lz4Codec) Encode(w io.Writer, state any) error {
	var payload []byte

	switch v := state.(type) {
	case []byte:
		payload = v
	case *[]byte:
		payload = *v
	default:
		return errNotBytes
	}

	zw := lz4.NewWriter(w)

	_, err := zw.Write(payload)
	if err != nil {
		return fmt.Errorf("lz4 compress: %w", err)
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 compress: %w", err)
	}

	return nil
}

func (lz4Codec) Decode(r io.Reader, state any) error {
	out, ok := state.(*[]byte)
	if !ok {
		return errNotBytes
	}

	data, err := io.ReadAll(lz4.NewReader(r))
	if err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}

	*out = data

	return nil
}

func (lz4Codec) Extension() string {
	return lz4Extension
}

// Package codec encodes the records the revision store keeps: CBOR with core deterministic
// encoding for structured records, zstd for representation bodies.
package codec

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pachyderm/fsfs/src/internal/errors"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zenc *zstd.Encoder
	zdec *zstd.Decoder
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	// Node-revision ids and revision numbers implement TextMarshaler and are stored as text.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zdec, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.  The same logical value always produces the same bytes.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	return data, errors.EnsureStack(err)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return errors.EnsureStack(decMode.Unmarshal(data, v))
}

// Compress returns the zstd compression of data.
func Compress(data []byte) []byte {
	return zenc.EncodeAll(data, make([]byte, 0, len(data)/2+16))
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := zdec.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompress representation")
	}
	return out, nil
}

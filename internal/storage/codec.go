package storage

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// Documents larger than this are stored zstd-compressed.
const compressThreshold = 4 << 10

type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec() (*codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{encoder: encoder, decoder: decoder}, nil
}

func (c *codec) encode(value any) ([]byte, bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("encode document: %w", err)
	}
	if len(raw) <= compressThreshold {
		return raw, false, nil
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), true, nil
}

func (c *codec) decode(raw []byte, compressed bool, out any) error {
	if compressed {
		plain, err := c.decoder.DecodeAll(raw, nil)
		if err != nil {
			return fmt.Errorf("decompress document: %w", err)
		}
		raw = plain
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// cloneValue deep-copies a value through its JSON form so defaults holding
// maps or slices are never shared between callers.
func cloneValue[T any](value T) (T, error) {
	var out T
	raw, err := json.Marshal(value)
	if err != nil {
		return out, fmt.Errorf("clone defaults: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("clone defaults: %w", err)
	}
	return out, nil
}

func (c *codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}

package processor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/apate/engine/internal/apate/snapshot"
)

// RegisterBuiltins installs the engine's own embedded processors, beyond
// whatever a host application additionally registers: "append" (used by
// the end-to-end processor-chain scenario), and body compression under
// "gzip"/"lz4", decompression under "gunzip"/"unlz4".
func RegisterBuiltins(r *Registry) {
	r.Register("append", builtinAppend)
	r.Register("gzip", builtinGzip)
	r.Register("gunzip", builtinGunzip)
	r.Register("lz4", builtinLZ4)
	r.Register("unlz4", builtinUnLZ4)
}

func builtinAppend(args []string, _ *snapshot.ResponseContext, body []byte) ([]byte, error) {
	var suffix string
	if len(args) > 0 {
		suffix = args[0]
	}
	out := make([]byte, 0, len(body)+len(suffix))
	out = append(out, body...)
	out = append(out, suffix...)
	return out, nil
}

func builtinGzip(args []string, _ *snapshot.ResponseContext, body []byte) ([]byte, error) {
	level := gzip.DefaultCompression
	if len(args) > 0 {
		switch args[0] {
		case "fast":
			level = gzip.BestSpeed
		case "best":
			level = gzip.BestCompression
		case "default":
		default:
			return nil, fmt.Errorf("gzip: unknown compression level %q", args[0])
		}
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func builtinGunzip(_ []string, _ *snapshot.ResponseContext, body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}

func builtinLZ4(_ []string, _ *snapshot.ResponseContext, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	return buf.Bytes(), nil
}

func builtinUnLZ4(_ []string, _ *snapshot.ResponseContext, body []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(body))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unlz4: %w", err)
	}
	return out, nil
}

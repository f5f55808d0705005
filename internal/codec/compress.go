package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compress zlib 压缩
func Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fail(StageCompress, err)
	}
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return nil, fail(StageCompress, err)
	}
	if err := w.Close(); err != nil {
		return nil, fail(StageCompress, err)
	}
	return buf.Bytes(), nil
}

// Decompress zlib 解压，截断或损坏的输入返回 SerializationError
func Decompress(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fail(StageDecompress, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fail(StageDecompress, err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

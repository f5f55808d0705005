package codec

import (
	"errors"
	"fmt"
)

// Pad4 追加 n 个值为 n 的字节（n 取 1..4），使长度为 4 的倍数；已对齐的输入追加完整的 4 字节
func Pad4(b []byte) []byte {
	n := 4 - len(b)%4
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out
}

// Unpad4 校验并去除 Pad4 追加的字节
func Unpad4(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fail(StageUnpad, fmt.Errorf("length %d is not a positive multiple of 4", len(b)))
	}
	n := int(b[len(b)-1])
	if n < 1 || n > 4 {
		return nil, fail(StageUnpad, fmt.Errorf("invalid pad length %d", n))
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fail(StageUnpad, errors.New("inconsistent pad bytes"))
		}
	}
	out := make([]byte, len(b)-n)
	copy(out, b)
	return out, nil
}

// Package codec 负责工具配置与持久化二进制块之间的转换：JSON 序列化、zlib 压缩、4 字节对齐填充
package codec

import (
	"errors"
	"fmt"

	"piper/internal/logger"
	"piper/internal/schema"
	"piper/pkg/model"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FormatVersion 序列化格式版本
const FormatVersion = 1

// Options 编码选项
type Options struct {
	Align bool // 宿主存储要求 4 字节对齐时启用 Pad4
}

// Serialize 将配置写为 JSON 文档，键与 YAML 配置一致
func Serialize(cfg *model.Config) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetBytes(doc, "version", FormatVersion); err != nil {
		return nil, fail(StageSerialize, err)
	}
	tree := schema.Encode(cfg)
	for _, k := range model.Kinds {
		if doc, err = sjson.SetBytes(doc, string(k), tree[string(k)]); err != nil {
			return nil, fail(StageSerialize, fmt.Errorf("%s: %w", k, err))
		}
	}
	return doc, nil
}

// Deserialize 解析 Serialize 的输出，并走与 YAML 相同的严格校验
func Deserialize(b []byte) (*model.Config, error) {
	if !gjson.ValidBytes(b) {
		return nil, fail(StageDeserialize, errors.New("invalid JSON document"))
	}
	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return nil, fail(StageDeserialize, errors.New("document is not an object"))
	}
	if v := doc.Get("version"); v.Exists() && v.Int() > FormatVersion {
		return nil, fail(StageDeserialize, fmt.Errorf("unsupported format version %d", v.Int()))
	}
	tree := doc.Value()
	if m, ok := tree.(map[string]any); ok {
		delete(m, "version")
	}
	cfg, err := schema.ParseTree(tree)
	if err != nil {
		return nil, fail(StageDeserialize, err)
	}
	return cfg, nil
}

// Encode 序列化并压缩，按需对齐
func Encode(cfg *model.Config, opts Options) ([]byte, error) {
	raw, err := Serialize(cfg)
	if err != nil {
		return nil, err
	}
	blob, err := Compress(raw)
	if err != nil {
		return nil, err
	}
	if opts.Align {
		blob = Pad4(blob)
	}
	return blob, nil
}

// Decode Encode 的逆过程
func Decode(blob []byte, opts Options) (*model.Config, error) {
	var err error
	if opts.Align {
		if blob, err = Unpad4(blob); err != nil {
			return nil, err
		}
	}
	raw, err := Decompress(blob)
	if err != nil {
		return nil, err
	}
	return Deserialize(raw)
}

// DecodeOrDefault 解码失败时记录日志并回退到默认配置，空数据视为首次启动
func DecodeOrDefault(blob []byte, opts Options, l logger.Logger) *model.Config {
	if len(blob) == 0 {
		return model.DefaultConfig()
	}
	cfg, err := Decode(blob, opts)
	if err != nil {
		if l != nil {
			l.Err(err, "持久化配置已损坏，使用默认配置", "bytes", len(blob))
		}
		return model.DefaultConfig()
	}
	return cfg
}

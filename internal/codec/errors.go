package codec

import "fmt"

// Stage 出错的编解码阶段
type Stage string

const (
	StageSerialize   Stage = "serialize"
	StageDeserialize Stage = "deserialize"
	StageCompress    Stage = "compress"
	StageDecompress  Stage = "decompress"
	StagePad         Stage = "pad"
	StageUnpad       Stage = "unpad"
)

// SerializationError 持久化数据无法编码或已损坏
type SerializationError struct {
	Stage Stage
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed at %s: %v", e.Stage, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func fail(stage Stage, err error) error {
	return &SerializationError{Stage: stage, Err: err}
}

// Package store 读写检查点、统计文件、参数与消息文件。
//
// 大文件使用 zstd 压缩的 JSON，小文件使用缩进 JSON；
// 所有写入都先写临时文件再原子改名，中断不会留下写了一半的文件。
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"
)

// 文件扩展名
const (
	BigDictExt = ".json.zst"
	DictExt    = ".json"
)

// ErrCorrupt 文件内容无法解析
var ErrCorrupt = errors.New("corrupt data file")

// zstd 帧头
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// SaveBigDict 以 zstd 压缩的 JSON 原子写入 path
func SaveBigDict(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	defer encoder.Close()
	return renameio.WriteFile(path, encoder.EncodeAll(raw, nil), 0o644)
}

// LoadBigDict 读取 path 并解码到 v，未压缩的 JSON 同样接受
func LoadBigDict(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("create zstd decoder: %w", err)
		}
		defer decoder.Close()
		if raw, err = decoder.DecodeAll(raw, nil); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// SaveDict 以缩进 JSON 原子写入 path
func SaveDict(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return renameio.WriteFile(path, append(raw, '\n'), 0o644)
}

// LoadDict 读取 JSON 文件
func LoadDict(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// Message 供外部监控的状态消息
type Message struct {
	Version int     `json:"Version"`
	Beta    float64 `json:"Beta"`
}

// BroadcastMessage 覆盖写入消息文件
func BroadcastMessage(path string, m Message) error {
	return SaveDict(path, m)
}

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dyson/maths"
)

type sample struct {
	Name   string                   `json:"Name"`
	Values map[string]*maths.Tensor `json:"Values"`
}

func TestBigDictRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Weight"+BigDictExt)
	ts := maths.Full(1-2i, 2, 3)
	in := sample{Name: "G", Values: map[string]*maths.Tensor{"SmoothT": ts}}
	require.NoError(t, SaveBigDict(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, zstdMagic, raw[:4])

	var out sample
	require.NoError(t, LoadBigDict(path, &out))
	require.Equal(t, "G", out.Name)
	require.True(t, out.Values["SmoothT"].Equal(ts))

	// 覆盖写入后目录中没有残留的临时文件
	require.NoError(t, SaveBigDict(path, in))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLoadBigDictAcceptsPlainJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0_statis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Name":"Sigma","Values":{}}`), 0o644))
	var out sample
	require.NoError(t, LoadBigDict(path, &out))
	require.Equal(t, "Sigma", out.Name)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	truncated := filepath.Join(dir, "truncated")
	require.NoError(t, SaveBigDict(truncated, sample{Name: "x"}))
	raw, err := os.ReadFile(truncated)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(truncated, raw[:len(raw)/2], 0o644))

	var out sample
	require.ErrorIs(t, LoadBigDict(truncated, &out), ErrCorrupt)

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0o644))
	require.ErrorIs(t, LoadDict(garbage, &out), ErrCorrupt)

	require.ErrorIs(t, LoadDict(filepath.Join(dir, "missing"), &out), os.ErrNotExist)
}

func TestBroadcastMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Message"+DictExt)
	require.NoError(t, BroadcastMessage(path, Message{Version: 3, Beta: 0.8}))
	require.NoError(t, BroadcastMessage(path, Message{Version: 4, Beta: 0.8}))
	var m Message
	require.NoError(t, LoadDict(path, &m))
	require.Equal(t, Message{Version: 4, Beta: 0.8}, m)
}

package redisstate

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Codec 负责缓存值的压缩与解压。
// 压缩格式为 base64(gzip(text))，关闭压缩时原样存储。
type Codec struct {
	Enabled bool
}

// Encode 压缩代码文本
func (c Codec) Encode(text string) (string, error) {
	if !c.Enabled {
		return text, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("codec: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("codec: gzip close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode 解压缓存值；解压失败时把原始值当作纯文本返回。
func (c Codec) Decode(stored string) string {
	if !c.Enabled || stored == "" {
		return stored
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return stored
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return stored
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return stored
	}
	return string(out)
}

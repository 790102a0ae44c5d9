package htram

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trace 帧回放文件（YAML）
type Trace struct {
	Device  string       `yaml:"device"`
	Variant string       `yaml:"variant"`
	Frames  []TraceFrame `yaml:"frames"`
}

// TraceFrame 一条帧记录
type TraceFrame struct {
	Label     string `yaml:"label"`
	Direction string `yaml:"direction"` // tx=网关→设备, rx=设备→网关
	Hex       string `yaml:"hex"`
	Synthetic bool   `yaml:"synthetic,omitempty"` // 构造帧，非抓包
}

// IsTX 是否为下行
func (t TraceFrame) IsTX() bool { return strings.EqualFold(t.Direction, "tx") }

// Bytes 解析十六进制（允许空格）
func (t TraceFrame) Bytes() ([]byte, error) {
	clean := strings.Join(strings.Fields(t.Hex), "")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("trace frame %q: %w", t.Label, err)
	}
	return b, nil
}

// ParseTrace 从 YAML 字节解析
func ParseTrace(data []byte) (*Trace, error) {
	var tr Trace
	if err := yaml.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}
	if _, err := ParseVariant(tr.Variant); err != nil {
		return nil, err
	}
	return &tr, nil
}

// LoadTrace 读取 YAML 回放文件
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return ParseTrace(data)
}

// Package addressing 蓝图实例地址空间计算
//
// 蓝图的网络和虚拟机地址都以两段式前缀（如 "10.100"）为基准书写，
// 每个实例通过一个整数偏移量平移第二段，从而得到互不重叠的地址空间。
package addressing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxOctet 第二段允许的最大值
const MaxOctet = 255

var (
	// ErrAddressSpaceExhausted 偏移后的第二段超过255，蓝图的地址空间已用尽
	ErrAddressSpaceExhausted = errors.New("blueprint address space exhausted")
	// ErrNegativeOffset 偏移量不能为负数
	ErrNegativeOffset = errors.New("subnet offset must not be negative")
)

// OverflowError 地址空间溢出错误
type OverflowError struct {
	BasePrefix string
	Offset     int
	Octet      int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s: base prefix %s with offset %d yields second octet %d (max %d)",
		ErrAddressSpaceExhausted, e.BasePrefix, e.Offset, e.Octet, MaxOctet)
}

// Unwrap 支持 errors.Is(err, ErrAddressSpaceExhausted)
func (e *OverflowError) Unwrap() error {
	return ErrAddressSpaceExhausted
}

// Shifter 对某个实例的所有地址执行同一偏移
type Shifter struct {
	basePrefix string
	offset     int
	from       string
	to         string
	// passthrough 表示前缀元数据无法解析，所有地址原样返回
	passthrough bool
}

// NewShifter 解析基准前缀并计算偏移后的第二段
//
// 溢出在此处立即报错。前缀格式错误（旧数据）不是错误，
// 返回的 Shifter 对所有输入原样返回。
func NewShifter(basePrefix string, offset int) (*Shifter, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeOffset, offset)
	}

	first, second, ok := parsePrefix(basePrefix)
	if !ok {
		return &Shifter{basePrefix: basePrefix, offset: offset, passthrough: true}, nil
	}

	shifted := second + offset
	if shifted > MaxOctet {
		return nil, &OverflowError{BasePrefix: basePrefix, Offset: offset, Octet: shifted}
	}

	return &Shifter{
		basePrefix: basePrefix,
		offset:     offset,
		from:       fmt.Sprintf("%s.%d.", first, second),
		to:         fmt.Sprintf("%s.%d.", first, shifted),
	}, nil
}

// Shift 平移单个IP或CIDR字符串
//
// 第二个返回值为false表示输入与基准前缀不匹配，值被原样返回。
func (s *Shifter) Shift(value string) (string, bool) {
	if s.passthrough || !strings.HasPrefix(value, s.from) {
		return value, false
	}
	return s.to + value[len(s.from):], true
}

// Passthrough 前缀元数据无法解析时为true
func (s *Shifter) Passthrough() bool {
	return s.passthrough
}

// Offset 返回偏移量
func (s *Shifter) Offset() int {
	return s.offset
}

// BasePrefix 返回基准前缀
func (s *Shifter) BasePrefix() string {
	return s.basePrefix
}

// ApplyOffset 计算value在偏移offset后的具体地址
//
//	ApplyOffset("10.100.1.0/24", "10.100", 2) == "10.102.1.0/24"
//	ApplyOffset("10.100.0.10", "10.100", 2)   == "10.102.0.10"
//
// 只改变第二段，第三、四段及掩码保持不变；前缀不匹配时原样返回。
func ApplyOffset(value, basePrefix string, offset int) (string, error) {
	s, err := NewShifter(basePrefix, offset)
	if err != nil {
		return "", err
	}
	shifted, _ := s.Shift(value)
	return shifted, nil
}

// ExtractPrefix 返回子网的前两段，如 "10.100.1.0/24" -> "10.100"
//
// 无法提取时返回空字符串。
func ExtractPrefix(subnet string) string {
	parts := strings.SplitN(subnet, ".", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// ValidPrefix 是否为合法的两段式前缀
func ValidPrefix(prefix string) bool {
	_, _, ok := parsePrefix(prefix)
	return ok
}

// Capacity 返回从offset开始该前缀还能容纳的实例数
func Capacity(basePrefix string, nextOffset int) int {
	_, second, ok := parsePrefix(basePrefix)
	if !ok {
		return 0
	}
	remaining := MaxOctet - second - nextOffset + 1
	if remaining < 0 {
		return 0
	}
	return remaining
}

func parsePrefix(prefix string) (string, int, bool) {
	parts := strings.Split(prefix, ".")
	if len(parts) != 2 {
		return "", 0, false
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil || first < 0 || first > MaxOctet {
		return "", 0, false
	}
	second, err := strconv.Atoi(parts[1])
	if err != nil || second < 0 || second > MaxOctet {
		return "", 0, false
	}
	return strconv.Itoa(first), second, true
}

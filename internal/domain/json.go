package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB 自定义JSON类型
type JSONB map[string]interface{}

// Scan 实现sql.Scanner接口
func (j *JSONB) Scan(value interface{}) error {
	return scanJSON(value, j)
}

// Value 实现driver.Valuer接口
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// StringMap 字符串键值对（虚拟机环境变量等）
type StringMap map[string]string

// Scan 实现sql.Scanner接口
func (m *StringMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// Value 实现driver.Valuer接口
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// scanJSON postgres驱动返回[]byte，sqlite驱动可能返回string
func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}

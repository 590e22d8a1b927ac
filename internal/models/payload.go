package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PriceFactors 报价计算明细（带结构版本号）
type PriceFactors struct {
	SchemaVersion int     `json:"schema_version"`
	DistanceKm    float64 `json:"distance_km"`
	PerKmRate     string  `json:"per_km_rate"`
	MarkupRate    string  `json:"markup_rate"`
	MinPrice      string  `json:"min_price"`
	MaxPrice      string  `json:"max_price"`
	Clamped       string  `json:"clamped,omitempty"` // min / max / 空
	TimeOfDay     string  `json:"time_of_day"`
	ZoneKey       string  `json:"zone_key,omitempty"`
}

// Value 实现 driver.Valuer 接口
func (p PriceFactors) Value() (driver.Value, error) {
	if p.SchemaVersion == 0 {
		return nil, nil
	}
	return marshalJSONColumn(p)
}

// Scan 实现 sql.Scanner 接口
func (p *PriceFactors) Scan(value interface{}) error {
	return scanJSONColumn(value, p)
}

// InteractiveButton 交互按钮
type InteractiveButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// NotificationPayload 通知的结构化内容
type NotificationPayload struct {
	SchemaVersion int                 `json:"schema_version"`
	Kind          string              `json:"kind"` // text / interactive / location
	Body          string              `json:"body,omitempty"`
	Header        string              `json:"header,omitempty"`
	Footer        string              `json:"footer,omitempty"`
	Buttons       []InteractiveButton `json:"buttons,omitempty"`
	Latitude      float64             `json:"latitude,omitempty"`
	Longitude     float64             `json:"longitude,omitempty"`
	Name          string              `json:"name,omitempty"`
	Address       string              `json:"address,omitempty"`
}

// Value 实现 driver.Valuer 接口
func (p NotificationPayload) Value() (driver.Value, error) {
	if p.SchemaVersion == 0 && p.Kind == "" {
		return nil, nil
	}
	return marshalJSONColumn(p)
}

// Scan 实现 sql.Scanner 接口
func (p *NotificationPayload) Scan(value interface{}) error {
	return scanJSONColumn(value, p)
}

func marshalJSONColumn(value interface{}) (driver.Value, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(body), nil
}

func scanJSONColumn(value interface{}, dest interface{}) error {
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

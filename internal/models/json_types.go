package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// scanJSON decodes a JSON column (delivered as []byte or string by the MySQL driver).
func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// StringList is a JSON array column, e.g. product image URLs.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue([]string(l))
}

func (l *StringList) Scan(src interface{}) error {
	*l = nil
	return scanJSON(src, (*[]string)(l))
}

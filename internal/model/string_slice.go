package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

const keySeparator = ";"

// StringSlice stores a list of image keys in a single text column,
// joined by semicolons.
type StringSlice []string

// GormDataType keeps the column a plain text column on every driver
func (StringSlice) GormDataType() string {
	return "text"
}

// Value implements the driver.Valuer interface.
// No element may contain the separator or be empty.
func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "", nil
	}

	for _, v := range s {
		if v == "" || strings.Contains(v, keySeparator) {
			return "", fmt.Errorf("unsafe key %q in %v", v, []string(s))
		}
	}

	return strings.Join(s, keySeparator), nil
}

// Scan implements the sql.Scanner interface.
func (s *StringSlice) Scan(value any) error {
	var str string

	switch val := value.(type) {
	case nil:
		*s = StringSlice{}
		return nil
	case string:
		str = val
	case []byte:
		str = string(val)
	default:
		return fmt.Errorf("failed to scan StringSlice, %v", value)
	}

	if str == "" {
		*s = StringSlice{}
		return nil
	}

	*s = strings.Split(str, keySeparator)
	return nil
}

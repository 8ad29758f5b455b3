package crawlerlog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/widedata/platform/pkg/common/logger"
	"gorm.io/datatypes"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// MapRow converts a generic row into a PendingRecord. It returns false when the
// row cannot be used (no id, no status, or a malformed column); callers treat
// that as a skip, not an error.
func MapRow(row map[string]interface{}) (*PendingRecord, bool) {
	if row == nil {
		return nil, false
	}

	id, err := toInt64(row["id"])
	if err != nil {
		logRowAbsence(row, "id", err)
		return nil, false
	}
	status, err := toInt64(row[ColumnStatus])
	if err != nil {
		logRowAbsence(row, ColumnStatus, err)
		return nil, false
	}
	extra, err := toJSONMap(row["extra"])
	if err != nil {
		logRowAbsence(row, "extra", err)
		return nil, false
	}
	createdAt, err := toTime(row[ColumnCreateTime])
	if err != nil {
		logRowAbsence(row, ColumnCreateTime, err)
		return nil, false
	}
	updatedAt, err := toTime(row["mt"])
	if err != nil {
		logRowAbsence(row, "mt", err)
		return nil, false
	}

	return &PendingRecord{
		ID:          id,
		Status:      Status(status),
		AuthorID:    toString(row["author_id"]),
		AuthorName:  toString(row["author_name"]),
		ContentID:   toString(row["content_id"]),
		Description: toString(row["description"]),
		VideoURL:    toString(row["video_url"]),
		CoverURL:    toString(row["cover_url"]),
		Extra:       extra,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, true
}

func logRowAbsence(row map[string]interface{}, column string, err error) {
	logger.Log.WithFields(map[string]interface{}{
		"column": column,
		"id":     row["id"],
		"error":  err.Error(),
	}).Debug("Row not mappable to crawler log record")
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing value")
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integer value %v", n)
		}
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

func toJSONMap(v interface{}) (datatypes.JSONMap, error) {
	var raw []byte
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return datatypes.JSONMap(m), nil
	case datatypes.JSONMap:
		return m, nil
	case []byte:
		raw = m
	case string:
		raw = []byte(m)
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	out := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode extra: %w", err)
	}
	return out, nil
}

package crawlerlog

import (
	"fmt"
	"strings"
)

// SelectBuilder renders a single-table SELECT. Conditions are inlined, so it
// must only be fed trusted values such as column names and constants.
type SelectBuilder struct {
	columns []string
	table   string
	where   []string
	orderBy string
	asc     bool
	limit   int
}

func Select(columns ...string) *SelectBuilder {
	return &SelectBuilder{columns: columns}
}

func (b *SelectBuilder) From(table string) *SelectBuilder {
	b.table = table
	return b
}

func (b *SelectBuilder) Where(condition string) *SelectBuilder {
	if condition = strings.TrimSpace(condition); condition != "" {
		b.where = append(b.where, condition)
	}
	return b
}

func (b *SelectBuilder) OrderBy(column string, asc bool) *SelectBuilder {
	b.orderBy = column
	b.asc = asc
	return b
}

func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = n
	return b
}

func (b *SelectBuilder) String() string {
	var sb strings.Builder

	columns := "*"
	if len(b.columns) > 0 {
		columns = strings.Join(b.columns, ", ")
	}
	sb.WriteString("SELECT ")
	sb.WriteString(columns)
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	if b.orderBy != "" {
		direction := "DESC"
		if b.asc {
			direction = "ASC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", b.orderBy, direction)
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	return sb.String()
}

// PendingQuery selects the newest pageSize records that are not fully done.
func PendingQuery(pageSize int) string {
	return Select("*").
		From(TableName).
		Where(fmt.Sprintf("%s != %d", ColumnStatus, StatusAllDone)).
		OrderBy(ColumnCreateTime, false).
		Limit(pageSize).
		String()
}

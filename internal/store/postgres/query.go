package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// filter accumulates WHERE conditions with numbered placeholders.
type filter struct {
	conds []string
	args  []any
}

// where adds cond, in which %s stands for the argument placeholder.
func (f *filter) where(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(f.args))))
}

// window adds the time bounds of opts on column.
func (f *filter) window(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		f.where(column+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		f.where(column+" <= %s", *opts.Until)
	}
}

// build appends the WHERE clause, orderBy and pagination of opts to base.
func (f *filter) build(base, orderBy string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	if len(f.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.conds, " AND "))
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	args := f.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

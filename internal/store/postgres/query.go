package postgres

import (
	"fmt"
	"strings"
)

// query assembles a SELECT with optional predicates, numbering $N
// placeholders as they are added. Predicates use "?" for their argument.
type query struct {
	base    string
	clauses []string
	args    []any
}

func newQuery(base string, clause string, arg any) *query {
	q := &query{base: base}
	if clause != "" {
		q.where(clause, arg)
	}
	return q
}

func (q *query) where(clause string, arg any) {
	q.args = append(q.args, arg)
	q.clauses = append(q.clauses, strings.Replace(clause, "?", fmt.Sprintf("$%d", len(q.args)), 1))
}

func (q *query) build(orderBy string, limit, offset int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(q.base)
	if len(q.clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.clauses, " AND "))
	}
	if orderBy != "" {
		sb.WriteString(" ")
		sb.WriteString(orderBy)
	}
	args := q.args
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}

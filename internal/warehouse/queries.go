package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"orgpulse.org/internal/report"
)

var (
	// ErrUnavailable is returned when the warehouse side is not configured.
	ErrUnavailable = errors.New("warehouse: not configured")
	// ErrNoLookupFilter means a user lookup was requested without any
	// identifying field.
	ErrNoLookupFilter = errors.New("warehouse: no lookup filter provided")
	// ErrBadIdentifier means a configured table name cannot be quoted
	// safely.
	ErrBadIdentifier = errors.New("warehouse: invalid identifier")
)

// Tables holds the fully qualified analytical table names.
type Tables struct {
	Enrolments string
	Users      string
	Hierarchy  string
}

// Queries builds and runs the three analytical query shapes: org-filtered
// extraction, hierarchy expansion and user lookup. All filters are
// server-constructed; every string literal is escaped before
// interpolation and identifiers are backtick-quoted.
type Queries struct {
	runner Runner
	tables Tables
	log    *zap.Logger
}

// NewQueries wires query building to a runner. A nil runner yields a
// Queries whose every call reports ErrUnavailable.
func NewQueries(runner Runner, tables Tables, log *zap.Logger) *Queries {
	if runner == nil {
		runner = unavailable{}
	}
	return &Queries{runner: runner, tables: tables, log: log}
}

// Enrolments returns all enrolment rows for the given orgs, optionally
// bounded to an enrolled_on window.
func (q *Queries) Enrolments(ctx context.Context, orgIDs []string, dr *report.DateRange) (*report.Table, error) {
	return q.orgFiltered(ctx, q.tables.Enrolments, orgIDs, "enrolled_on", dr)
}

// Users returns all user rows for the given orgs, optionally bounded to a
// registration-date window.
func (q *Queries) Users(ctx context.Context, orgIDs []string, dr *report.DateRange) (*report.Table, error) {
	return q.orgFiltered(ctx, q.tables.Users, orgIDs, "user_registration_date", dr)
}

func (q *Queries) orgFiltered(ctx context.Context, table string, orgIDs []string, dateColumn string, dr *report.DateRange) (*report.Table, error) {
	from, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE mdo_id IN (%s)", from, literalList(orgIDs))
	if dr != nil {
		query += fmt.Sprintf(" AND %s BETWEEN '%s' AND '%s'", dateColumn, dr.StartDate(), dr.EndDate())
	}
	return q.runner.RunQuery(ctx, query)
}

// EnrolmentsForUsers returns enrolment rows for a fixed user set,
// optionally bounded to an enrolled_on window.
func (q *Queries) EnrolmentsForUsers(ctx context.Context, userIDs []string, dr *report.DateRange) (*report.Table, error) {
	from, err := quoteTable(q.tables.Enrolments)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE user_id IN (%s)", from, literalList(userIDs))
	if dr != nil {
		query += fmt.Sprintf(" AND enrolled_on BETWEEN '%s' AND '%s'", dr.StartDate(), dr.EndDate())
	}
	return q.runner.RunQuery(ctx, query)
}

// LookupUser resolves a user by email, phone or external system id and
// returns user_id plus mdo_id. At least one field must be set.
func (q *Queries) LookupUser(ctx context.Context, email, phone, externalID string) (*report.Table, error) {
	var conds []string
	if email != "" {
		conds = append(conds, "email = '"+escapeLiteral(email)+"'")
	}
	if phone != "" {
		conds = append(conds, "phone_number = '"+escapeLiteral(phone)+"'")
	}
	if externalID != "" {
		conds = append(conds, "external_system_id = '"+escapeLiteral(externalID)+"'")
	}
	if len(conds) == 0 {
		return nil, ErrNoLookupFilter
	}
	from, err := quoteTable(q.tables.Users)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT user_id, mdo_id FROM %s WHERE %s", from, strings.Join(conds, " AND "))
	return q.runner.RunQuery(ctx, query)
}

// DescendantOrgs expands one organization id to its full descendant set.
// An id sitting at ministry level pulls in every org under the ministry,
// department level every org under the department; the id itself is
// always part of the result.
func (q *Queries) DescendantOrgs(ctx context.Context, orgID string) ([]string, error) {
	from, err := quoteTable(q.tables.Hierarchy)
	if err != nil {
		return nil, err
	}
	id := escapeLiteral(orgID)
	query := fmt.Sprintf(
		"SELECT mdo_id FROM %s WHERE ministry_id = '%s' UNION DISTINCT SELECT mdo_id FROM %s WHERE department_id = '%s'",
		from, id, from, id)
	table, err := q.runner.RunQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{orgID: true}
	out := []string{orgID}
	for _, v := range table.ColumnStrings("mdo_id") {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// literalList renders a quoted, escaped IN-list.
func literalList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + escapeLiteral(v) + "'"
	}
	return strings.Join(quoted, ", ")
}

// escapeLiteral escapes a string for inclusion in a single-quoted
// standard-SQL literal.
func escapeLiteral(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, "'", `\'`)
}

// quoteTable backtick-quotes a qualified table name. Backticks inside the
// configured name are rejected rather than escaped.
func quoteTable(name string) (string, error) {
	if name == "" || strings.Contains(name, "`") {
		return "", fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	return "`" + name + "`", nil
}

type unavailable struct{}

func (unavailable) RunQuery(context.Context, string) (*report.Table, error) {
	return nil, ErrUnavailable
}

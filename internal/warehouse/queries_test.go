package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orgpulse.org/internal/report"
)

// recordingRunner captures the SQL handed to it and replies with a canned
// table.
type recordingRunner struct {
	got   string
	reply *report.Table
	err   error
}

func (r *recordingRunner) RunQuery(_ context.Context, query string) (*report.Table, error) {
	r.got = query
	if r.err != nil {
		return nil, r.err
	}
	if r.reply == nil {
		return report.NewTable(nil), nil
	}
	return r.reply, nil
}

var testTables = Tables{
	Enrolments: "proj.cumulative_master_data.master_user_enrolments",
	Users:      "proj.cumulative_master_data.master_user_details",
	Hierarchy:  "proj.cumulative_master_data.master_org_hierarchy_data",
}

func newTestQueries(r Runner) *Queries {
	return NewQueries(r, testTables, zap.NewNop())
}

func mustRange(t *testing.T, start, end string) *report.DateRange {
	t.Helper()
	dr, err := report.ParseDateRange(start, end)
	require.NoError(t, err)
	return &dr
}

func TestEnrolmentsQueryShape(t *testing.T) {
	r := &recordingRunner{}
	q := newTestQueries(r)

	_, err := q.Enrolments(context.Background(), []string{"org-1", "org-2"}, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM `proj.cumulative_master_data.master_user_enrolments` WHERE mdo_id IN ('org-1', 'org-2')",
		r.got)
}

func TestEnrolmentsDateWindow(t *testing.T) {
	r := &recordingRunner{}
	q := newTestQueries(r)

	_, err := q.Enrolments(context.Background(), []string{"org-1"},
		mustRange(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	assert.Contains(t, r.got, "AND enrolled_on BETWEEN '2024-01-01' AND '2024-01-31'")
}

func TestUsersQueryUsesRegistrationDate(t *testing.T) {
	r := &recordingRunner{}
	q := newTestQueries(r)

	_, err := q.Users(context.Background(), []string{"org-1"},
		mustRange(t, "2024-02-01", "2024-02-29"))
	require.NoError(t, err)
	assert.Contains(t, r.got, "`proj.cumulative_master_data.master_user_details`")
	assert.Contains(t, r.got, "user_registration_date BETWEEN '2024-02-01' AND '2024-02-29'")
}

func TestLiteralsEscaped(t *testing.T) {
	r := &recordingRunner{}
	q := newTestQueries(r)

	_, err := q.Enrolments(context.Background(), []string{`o'brien`, `back\slash`}, nil)
	require.NoError(t, err)
	assert.Contains(t, r.got, `IN ('o\'brien', 'back\\slash')`)
}

func TestLookupUserFilters(t *testing.T) {
	r := &recordingRunner{}
	q := newTestQueries(r)

	_, err := q.LookupUser(context.Background(), "asha@example.com", "", "")
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT user_id, mdo_id FROM `proj.cumulative_master_data.master_user_details` WHERE email = 'asha@example.com'",
		r.got)

	_, err = q.LookupUser(context.Background(), "asha@example.com", "9876512245", "EHR-1")
	require.NoError(t, err)
	assert.Contains(t, r.got, "email = 'asha@example.com' AND phone_number = '9876512245' AND external_system_id = 'EHR-1'")
}

func TestLookupUserRequiresFilter(t *testing.T) {
	q := newTestQueries(&recordingRunner{})

	_, err := q.LookupUser(context.Background(), "", "", "")
	assert.ErrorIs(t, err, ErrNoLookupFilter)
}

func TestDescendantOrgsDedupAndSelf(t *testing.T) {
	r := &recordingRunner{reply: &report.Table{
		Columns: []string{"mdo_id"},
		Rows: [][]any{
			{"child-1"},
			{"child-2"},
			{"child-1"},  // duplicate across the two hierarchy levels
			{"ministry"}, // the queried org itself
			{""},
		},
	}}
	q := newTestQueries(r)

	orgs, err := q.DescendantOrgs(context.Background(), "ministry")
	require.NoError(t, err)
	assert.Equal(t, []string{"ministry", "child-1", "child-2"}, orgs)
	assert.Contains(t, r.got, "WHERE ministry_id = 'ministry' UNION DISTINCT")
	assert.Contains(t, r.got, "WHERE department_id = 'ministry'")
}

func TestDescendantOrgsRunnerFailure(t *testing.T) {
	q := newTestQueries(&recordingRunner{err: errors.New("quota exceeded")})

	_, err := q.DescendantOrgs(context.Background(), "ministry")
	assert.Error(t, err)
}

func TestQuoteTableRejectsBacktick(t *testing.T) {
	q := newTestQueries(&recordingRunner{})
	q.tables.Enrolments = "proj.bad`name"

	_, err := q.Enrolments(context.Background(), []string{"org-1"}, nil)
	assert.ErrorIs(t, err, ErrBadIdentifier)
}

func TestNilRunnerUnavailable(t *testing.T) {
	q := newTestQueries(nil)

	_, err := q.Enrolments(context.Background(), []string{"org-1"}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = q.DescendantOrgs(context.Background(), "org-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

package main

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var (
	tallyCols   = []string{"org_id", "project_index", "cct_amount", "cct_listed", "sold", "sale_count"}
	saleCols    = []string{"sequence", "org_id", "project_index", "price", "amount_paid"}
	balanceCols = []string{"id", "balance"}
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestCheckLedger_Consistent(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("FROM projects p").WillReturnRows(sqlmock.NewRows(tallyCols).
		AddRow("test-company", 0, 1000, 3, 3, 1).
		AddRow("test-company", 1, 50, 0, 0, 0))
	mock.ExpectQuery("amount_paid <> quantity").WillReturnRows(sqlmock.NewRows(saleCols))
	mock.ExpectQuery("balance < 0").WillReturnRows(sqlmock.NewRows(balanceCols))
	mock.ExpectQuery(regexp.QuoteMeta(supplyQuery)).WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(100))

	r, err := checkLedger(context.Background(), db, 100)
	if err != nil {
		t.Fatalf("checkLedger: %v", err)
	}
	if r.Projects != 2 || r.SaleEvents != 1 || r.Supply != 100 {
		t.Errorf("report = %+v", r)
	}
	if len(r.Violations) != 0 {
		t.Errorf("violations = %v, want none", r.Violations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCheckLedger_Violations(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("FROM projects p").WillReturnRows(sqlmock.NewRows(tallyCols).
		AddRow("org-a", 0, 10, 12, 12, 2).
		AddRow("org-b", 0, 100, 5, 3, 1))
	mock.ExpectQuery("amount_paid <> quantity").WillReturnRows(sqlmock.NewRows(saleCols).
		AddRow(7, "org-b", 0, 6, 10))
	mock.ExpectQuery("balance < 0").WillReturnRows(sqlmock.NewRows(balanceCols).
		AddRow("buyer-1", -4))
	mock.ExpectQuery(regexp.QuoteMeta(supplyQuery)).WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(90))

	r, err := checkLedger(context.Background(), db, 100)
	if err != nil {
		t.Fatalf("checkLedger: %v", err)
	}

	want := []string{
		"project org-a/0: listed 12 exceeds allotment 10",
		"project org-b/0: listed 5 but sale events record 3",
		"sale 7 on org-b/0: paid 10 for price 6",
		"account buyer-1: negative balance -4",
		"currency supply 90 differs from genesis total 100",
	}
	if len(r.Violations) != len(want) {
		t.Fatalf("violations = %v, want %d", r.Violations, len(want))
	}
	for i, w := range want {
		if r.Violations[i] != w {
			t.Errorf("violation[%d] = %q, want %q", i, r.Violations[i], w)
		}
	}
}

func TestCheckLedger_QueryError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("FROM projects p").WillReturnError(errors.New("connection reset"))

	_, err := checkLedger(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "failed to tally projects") {
		t.Errorf("err = %v, want tally failure", err)
	}
}

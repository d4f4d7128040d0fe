package permission

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"tessera.dev/internal/claims"
)

type stubGrants struct {
	rows []Grant
	err  error
}

func (s stubGrants) GrantRows(context.Context, int64) ([]Grant, error) {
	return s.rows, s.err
}

func TestAggregateUnionDedupSort(t *testing.T) {
	rows := []Grant{
		{ApplicationID: 3, ApplicationName: "X", Action: "b", Source: SourceDirect},
		{ApplicationID: 3, ApplicationName: "X", Action: "a", Source: SourceDirect},
		{ApplicationID: 3, ApplicationName: "X", Action: "c", Source: SourceGroup},
		{ApplicationID: 3, ApplicationName: "X", Action: "b", Source: SourceGroup},
	}
	got := Aggregate(rows)
	want := claims.Features{{ApplicationID: 3, ApplicationName: "X", Actions: []string{"a", "b", "c"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAggregateOrdersApplicationsByID(t *testing.T) {
	rows := []Grant{
		{ApplicationID: 9, ApplicationName: "AAA", Action: "x"},
		{ApplicationID: 2, ApplicationName: "ZZZ", Action: "y"},
		{ApplicationID: 5, ApplicationName: "MMM", Action: "z"},
	}
	got := Aggregate(rows)
	var names []string
	for _, app := range got {
		names = append(names, app.ApplicationName)
	}
	if !reflect.DeepEqual(names, []string{"ZZZ", "MMM", "AAA"}) {
		t.Fatalf("unexpected application order: %v", names)
	}
}

func TestAggregateEmpty(t *testing.T) {
	got := Aggregate(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil features, got %#v", got)
	}
}

func TestResolveActionsPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	r := NewResolver(stubGrants{err: storeErr})
	if _, err := r.ResolveActions(context.Background(), 1); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestResolveActionsNoGrants(t *testing.T) {
	r := NewResolver(stubGrants{})
	got, err := r.ResolveActions(context.Background(), 1)
	if err != nil {
		t.Fatalf("ResolveActions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no applications, got %+v", got)
	}
}

func TestResolveApplication(t *testing.T) {
	r := NewResolver(stubGrants{rows: []Grant{
		{ApplicationID: 1, ApplicationName: "BUDGETS", Action: "reports.view", Source: SourceGroup},
		{ApplicationID: 1, ApplicationName: "BUDGETS", Action: "expenses.view", Source: SourceDirect},
	}})
	got, err := r.ResolveApplication(context.Background(), 42, "BUDGETS")
	if err != nil {
		t.Fatalf("ResolveApplication: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"expenses.view", "reports.view"}) {
		t.Fatalf("unexpected actions: %v", got)
	}

	none, err := r.ResolveApplication(context.Background(), 42, "PAYROLL")
	if err != nil {
		t.Fatalf("ResolveApplication: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty list, got %#v", none)
	}
}

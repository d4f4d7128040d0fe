package claims

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestBuildScenario(t *testing.T) {
	c := Build(42, "a@b.com", []string{"managers"}, []AppActions{
		{ApplicationID: 1, ApplicationName: "BUDGETS", Actions: []string{"expenses.view", "reports.view"}},
	})

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"sub":42,"email":"a@b.com","groups":["managers"],"features":{"BUDGETS":["expenses.view","reports.view"]}}`
	if string(data) != want {
		t.Fatalf("unexpected claims json:\n got %s\nwant %s", data, want)
	}
}

func TestBuildEmptyInputs(t *testing.T) {
	c := Build(7, "x@y.z", nil, nil)
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"sub":7,"email":"x@y.z","groups":[],"features":{}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestBuildDedupesGroupsKeepingOrder(t *testing.T) {
	c := Build(1, "a@b.com", []string{"ops", "managers", "ops"}, nil)
	if !reflect.DeepEqual(c.Groups, []string{"ops", "managers"}) {
		t.Fatalf("unexpected groups: %v", c.Groups)
	}
}

func TestBuildCopiesActions(t *testing.T) {
	actions := []string{"a", "b"}
	c := Build(1, "a@b.com", nil, []AppActions{{ApplicationID: 1, ApplicationName: "X", Actions: actions}})
	actions[0] = "mutated"
	if c.Features[0].Actions[0] != "a" {
		t.Fatalf("claims share storage with caller input")
	}
}

func TestBuildPanicsOnInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		id    int64
		email string
	}{
		{"zero id", 0, "a@b.com"},
		{"empty email", 1, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Build(tc.id, tc.email, nil, nil)
		})
	}
}

func TestFeaturesKeepApplicationOrder(t *testing.T) {
	f := Features{
		{ApplicationID: 1, ApplicationName: "ZETA", Actions: []string{"z"}},
		{ApplicationID: 2, ApplicationName: "ALPHA", Actions: []string{"a"}},
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"ZETA":["z"],"ALPHA":["a"]}` {
		t.Fatalf("unexpected order: %s", data)
	}

	var back Features
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || back[0].ApplicationName != "ZETA" || back[1].ApplicationName != "ALPHA" {
		t.Fatalf("order lost on decode: %+v", back)
	}
	if !back.Allows("ALPHA", "a") || back.Allows("ALPHA", "z") {
		t.Fatalf("Allows mismatch: %+v", back)
	}
}

func TestFeaturesRejectNonObject(t *testing.T) {
	var f Features
	if err := json.Unmarshal([]byte(`["BUDGETS"]`), &f); err == nil {
		t.Fatalf("expected error for array input")
	}
}

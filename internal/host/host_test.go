package host

import "testing"

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{
		"GET":    MethodGet,
		"HEAD":   MethodGet,
		"POST":   MethodPost,
		"PUT":    MethodPut,
		"DELETE": MethodDelete,
	}
	for name, want := range cases {
		got, ok := ParseMethod(name)
		if !ok || got != want {
			t.Fatalf("ParseMethod(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ParseMethod("PATCH"); ok {
		t.Fatal("expected PATCH to be unsupported")
	}
}

func TestStatusSuccess(t *testing.T) {
	for _, status := range []Status{StatusCreated, StatusDeleted, StatusChanged, StatusContent} {
		if !status.Success() {
			t.Fatalf("expected %s to be a success", status)
		}
	}
	for _, status := range []Status{StatusNotFound, StatusNotAcceptable, StatusMethodNotAllowed, StatusPreconditionFailed, StatusInternalError} {
		if status.Success() {
			t.Fatalf("expected %s to be a failure", status)
		}
	}
}

package env

import "testing"

func TestGetFallsBackOnBlank(t *testing.T) {
	t.Setenv("PAYCORE_TEST_ENV", "   ")
	if got := Get("PAYCORE_TEST_ENV", "json"); got != "json" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestFirstSkipsUnsetKeys(t *testing.T) {
	t.Setenv("PAYCORE_TEST_A", "")
	t.Setenv("PAYCORE_TEST_B", " api-1 ")
	got, ok := First("PAYCORE_TEST_A", "PAYCORE_TEST_B")
	if !ok || got != "api-1" {
		t.Fatalf("expected api-1, got %q (%v)", got, ok)
	}
}

package llm

import "testing"

func TestKeyRotator_RoundRobin(t *testing.T) {
	r, err := NewKeyRotator([]string{"a", " ", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	var got []string
	for range 5 {
		_, k := r.Next()
		got = append(got, k)
	}
	want := []string{"a", "b", "c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeyRotator_Empty(t *testing.T) {
	if _, err := NewKeyRotator([]string{"", "  "}); err == nil {
		t.Error("expected error for no keys")
	}
}

func TestParseKeys(t *testing.T) {
	keys := ParseKeys(" k1, k2,,k3 ")
	if len(keys) != 3 || keys[0] != "k1" || keys[2] != "k3" {
		t.Errorf("ParseKeys = %q", keys)
	}
	if ParseKeys("") != nil {
		t.Error("ParseKeys(\"\") should be nil")
	}
}

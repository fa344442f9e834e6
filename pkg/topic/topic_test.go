package topic

import "testing"

func TestValidateName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"a/b/c", true},
		{"$SYS/broker/uptime", true},
		{"", false},
		{"a/+/c", false},
		{"a/#", false},
		{"a\x00b", false},
	}
	for _, c := range cases {
		err := ValidateName(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateName(%q) = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	cases := []struct {
		filter string
		ok     bool
	}{
		{"a/b/c", true},
		{"a/+/c", true},
		{"a/#", true},
		{"#", true},
		{"+", true},
		{"a/+/+", true},
		{"a/b#", false},
		{"a/#/b", false},
		{"a/b+", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidateFilter(c.filter)
		if (err == nil) != c.ok {
			t.Errorf("ValidateFilter(%q) = %v, want ok=%v", c.filter, err, c.ok)
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		filter, name string
		want         bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/x/c", true},
		{"a/+/c", "a/x/y/c", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"#", "a/b/c", true},
		{"#", "$SYS/broker/uptime", false},
		{"+/monitor/Clients", "$SYS/monitor/Clients", false},
		{"sport/tennis/+", "sport/tennis/player1", true},
		{"sport/tennis/+", "sport/tennis/player1/ranking", false},
		{"sport/#", "sport", true},
		{"sport/+", "sport", false},
	}
	for _, c := range cases {
		got := Match(c.filter, c.name)
		if got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.filter, c.name, got, c.want)
		}
	}
}

func TestHasWildcard(t *testing.T) {
	if !HasWildcard("a/+/b") {
		t.Error("expected wildcard")
	}
	if !HasWildcard("a/#") {
		t.Error("expected wildcard")
	}
	if HasWildcard("a/b/c") {
		t.Error("expected no wildcard")
	}
}

func TestIsSysTopic(t *testing.T) {
	if !IsSysTopic("$SYS/broker/uptime") {
		t.Error("expected sys topic")
	}
	if IsSysTopic("a/b") {
		t.Error("expected non-sys topic")
	}
}

func TestLevels(t *testing.T) {
	got := Levels("a/b/c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Levels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Levels()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

package compileopt

import (
	"sort"
	"testing"
)

func TestStringForms(t *testing.T) {
	for _, tt := range []struct {
		opt  CompileOption
		want string
	}{
		{Unrestricted, "~"},
		{NewLimitedAPI(3), "3"},
		{NewLimitedAPI(0x030a0000), "3.10"},
		{NewLimitedAPI(0x030c0000), "3.12"},
	} {
		if got := tt.opt.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestTagRoundTrip(t *testing.T) {
	for _, opt := range []CompileOption{Unrestricted, NewLimitedAPI(3), NewLimitedAPI(0x030a0000)} {
		got, err := Parse(opt.Tag())
		if err != nil {
			t.Fatalf("Parse(%q): %v", opt.Tag(), err)
		}
		if got.Tag() != opt.Tag() {
			t.Errorf("Parse(Tag()) round-trip: got %q, want %q", got.Tag(), opt.Tag())
		}
	}
}

func TestLess(t *testing.T) {
	opts := []CompileOption{
		NewLimitedAPI(0x030c0000),
		NewLimitedAPI(3),
		Unrestricted,
		NewLimitedAPI(0x030a0000),
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Less(opts[j]) })
	var got []string
	for _, o := range opts {
		got = append(got, o.String())
	}
	want := []string{"~", "3", "3.10", "3.12"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sorted order = %v, want %v", got, want)
			break
		}
	}
}

func TestLimitedAPIVersion(t *testing.T) {
	v, ok := NewLimitedAPI(3).LimitedAPIVersion()
	if !ok || v.String() != "3.2.0" {
		t.Errorf("LimitedAPIVersion() for sentinel 3 = %v, %v; want 3.2.0, true", v, ok)
	}
	v, ok = NewLimitedAPI(0x030a0000).LimitedAPIVersion()
	if !ok || v.Major != 3 || v.Minor != 10 {
		t.Errorf("LimitedAPIVersion() for 0x030a0000 = %v, %v; want 3.10.x, true", v, ok)
	}
	if _, ok := Unrestricted.LimitedAPIVersion(); ok {
		t.Error("LimitedAPIVersion() for Unrestricted should be ok=false")
	}
}

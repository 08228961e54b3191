package filter

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cases := []struct {
		name, input, want string
	}{
		{"css", "a{}", "<style>\na{}\n</style>"},
		{"javascript", "x()", "<script type=\"text/javascript\">\nx()\n</script>"},
		{"js", "x()", "<script type=\"text/javascript\">\nx()\n</script>"},
		{"plain", "<b>", "<b>"},
		{"escaped", "<b>", "&lt;b&gt;"},
		{"cdata", "a]]>b", "<![CDATA[\na]]]]><![CDATA[>b\n]]>"},
	}

	r := Defaults()

	for _, c := range cases {
		f, ok := r.Lookup(c.name)
		if !ok {
			t.Fatalf("filter %q not registered", c.name)
		}

		if got := f.Filter(c.input); got != c.want {
			t.Errorf("%s: expected %q, got %q", c.name, c.want, got)
		}
	}
}

func TestRegistry(t *testing.T) {
	base := Defaults()
	upper := FilterFunc(strings.ToUpper)

	r := base.With("upper", upper)

	if _, ok := base.Lookup("upper"); ok {
		t.Fatal("With modified the original registry")
	}
	if f, ok := r.Lookup("upper"); !ok || f.Filter("a") != "A" {
		t.Fatal("registered filter not found")
	}

	names := r.Names()
	if len(names) != 7 || names[0] != "cdata" || names[len(names)-1] != "upper" {
		t.Fatalf("unexpected names %v", names)
	}

	var empty Registry
	if _, ok := empty.Lookup("css"); ok {
		t.Fatal("nil registry has filters")
	}
	if _, ok := empty.With("x", upper).Lookup("x"); !ok {
		t.Fatal("With on nil registry lost filter")
	}
}

func TestNotFound(t *testing.T) {
	if got := NotFound("sass"); got != "Filter 'sass' not found." {
		t.Fatalf("unexpected text %q", got)
	}
}

package redirect

import (
	"errors"
	"testing"
)

const host = "app.example.com"

func TestResolveEmptyNextFallsBackToDefault(t *testing.T) {
	g := NewGuard("/dashboard/", nil, true)

	got, err := g.Resolve("", host)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "/dashboard/" {
		t.Errorf("got %q, want %q", got, "/dashboard/")
	}
}

func TestResolveRelativePath(t *testing.T) {
	g := NewGuard("/", nil, true)

	for _, next := range []string{"/dashboard/", "/a/b?c=d", "/"} {
		got, err := g.Resolve(next, host)
		if err != nil {
			t.Errorf("Resolve(%q): %v", next, err)
			continue
		}
		if got != next {
			t.Errorf("Resolve(%q) = %q, want unchanged", next, got)
		}
	}
}

func TestResolveRejectsCrossHost(t *testing.T) {
	g := NewGuard("/", nil, false)

	for _, next := range []string{
		"http://evil.example/",
		"https://evil.example/phish",
		"//evil.example/",
		"\\\\evil.example/",
		"https:///evil.example",
		"///evil.example",
	} {
		_, err := g.Resolve(next, host)
		if !errors.Is(err, ErrUnsafe) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnsafe", next, err)
		}
	}
}

func TestResolveSameHostAbsolute(t *testing.T) {
	g := NewGuard("/", nil, false)

	got, err := g.Resolve("https://app.example.com/dashboard/", host)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://app.example.com/dashboard/" {
		t.Errorf("got %q", got)
	}
}

func TestResolveAllowListedHost(t *testing.T) {
	g := NewGuard("/", []string{"other.example.com"}, false)

	if _, err := g.Resolve("https://other.example.com/ok", host); err != nil {
		t.Errorf("allow-listed host rejected: %v", err)
	}
	if _, err := g.Resolve("https://third.example.com/no", host); !errors.Is(err, ErrUnsafe) {
		t.Errorf("non-listed host err = %v, want ErrUnsafe", err)
	}
}

func TestResolveRequireHTTPS(t *testing.T) {
	g := NewGuard("/", nil, true)

	// Relative paths carry no scheme and always pass.
	if _, err := g.Resolve("/dashboard/", host); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	if _, err := g.Resolve("https://app.example.com/ok", host); err != nil {
		t.Errorf("https same-host rejected: %v", err)
	}
	if _, err := g.Resolve("http://app.example.com/no", host); !errors.Is(err, ErrUnsafe) {
		t.Errorf("http err = %v, want ErrUnsafe", err)
	}
	// Scheme-relative URLs default to http and fail the requirement.
	if _, err := g.Resolve("//app.example.com/no", host); !errors.Is(err, ErrUnsafe) {
		t.Errorf("scheme-relative err = %v, want ErrUnsafe", err)
	}
}

func TestResolveRejectsOddSchemes(t *testing.T) {
	g := NewGuard("/", nil, false)

	for _, next := range []string{
		"javascript:alert(1)",
		"data:text/html,x",
	} {
		_, err := g.Resolve(next, host)
		if !errors.Is(err, ErrUnsafe) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnsafe", next, err)
		}
	}
}

func TestResolveRejectsLeadingWhitespaceAndControl(t *testing.T) {
	g := NewGuard("/", nil, false)

	for _, next := range []string{" /dashboard/", "\n/dashboard/", "\thttp://evil.example"} {
		if _, err := g.Resolve(next, host); !errors.Is(err, ErrUnsafe) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnsafe", next, err)
		}
	}
}

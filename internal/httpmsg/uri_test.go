package httpmsg

import (
	"net/http"
	"strings"
	"testing"
)

func TestParseURIOriginForm(t *testing.T) {
	u, err := ParseURI("/a/b?x=1&y=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Path != "/a/b" {
		t.Errorf("path = %q, want /a/b", u.Path)
	}
	if u.Query != "x=1&y=2" {
		t.Errorf("query = %q, want x=1&y=2", u.Query)
	}
	if u.Host != "" || u.Port != 0 {
		t.Errorf("origin form should carry no authority, got %q:%d", u.Host, u.Port)
	}
}

func TestParseURIAbsoluteForm(t *testing.T) {
	u, err := ParseURI("http://example.com:8081/p?q=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Host != "example.com" || u.Port != 8081 {
		t.Errorf("authority = %q:%d, want example.com:8081", u.Host, u.Port)
	}
	if u.Path != "/p" || u.Query != "q=1" {
		t.Errorf("path/query = %q/%q", u.Path, u.Query)
	}
}

func TestParseURIRejections(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
	}{
		{"too long", "/" + strings.Repeat("a", MaxURILength), http.StatusRequestURITooLong},
		{"bad percent", "/a%zz", http.StatusBadRequest},
		{"truncated percent", "/a%4", http.StatusBadRequest},
		{"encoded nul", "/a%00b", http.StatusBadRequest},
		{"angle bracket", "/a<b", http.StatusBadRequest},
		{"backslash", "/a\\b", http.StatusBadRequest},
		{"backtick", "/a`b", http.StatusBadRequest},
		{"control byte", "/a\x01b", http.StatusBadRequest},
		{"not origin form", "a/b", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURI(tt.target)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Status != tt.status {
				t.Errorf("status = %d, want %d", err.Status, tt.status)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/", "/"},
		{"", "/"},
		{"//a///b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/b/../c", "/a/c"},
		{"/../..", "/"},
		{"/a/b/", "/a/b"},
		{"/a/../../b", "/b"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	inputs := []string{"/", "//x//y", "/a/./b/../c", "/deep/1/2/3/../../4"}
	for _, in := range inputs {
		once := NormalizePath(in)
		if twice := NormalizePath(once); twice != once {
			t.Errorf("normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestPercentRoundTrip(t *testing.T) {
	unreserved := "abcXYZ019-_.~"
	if got := PercentEncode(unreserved); got != unreserved {
		t.Errorf("unreserved bytes must not be escaped: %q", got)
	}
	inputs := []string{"hello world", "a/b?c&d", "100%", "naïve", unreserved}
	for _, in := range inputs {
		if got := PercentDecode(PercentEncode(in), false); got != in {
			t.Errorf("decode(encode(%q)) = %q", in, got)
		}
	}
}

func TestQueryValues(t *testing.T) {
	u, err := ParseURI("/p?a=1&b=%20x&c=1+2&flag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := u.QueryValues()
	if got := q["b"][0]; got != " x" {
		t.Errorf("percent-decoded value = %q, want %q", got, " x")
	}
	if got := q["c"][0]; got != "1+2" {
		t.Errorf("plus must survive query access, got %q", got)
	}
	if got := u.FormValues()["c"][0]; got != "1 2" {
		t.Errorf("plus must become space for form access, got %q", got)
	}
	if got := q["flag"][0]; got != "" {
		t.Errorf("bare key value = %q, want empty", got)
	}
}

func TestRequestTarget(t *testing.T) {
	u, _ := ParseURI("/p?q=1")
	if got := u.RequestTarget(); got != "/p?q=1" {
		t.Errorf("RequestTarget() = %q", got)
	}
	u, _ = ParseURI("/p")
	if got := u.RequestTarget(); got != "/p" {
		t.Errorf("RequestTarget() = %q", got)
	}
}

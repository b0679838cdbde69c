package urlparser

import (
	"reflect"
	"testing"
)

func TestCanonicalLink(t *testing.T) {
	tests := []struct {
		link, base, want, name string
	}{
		{"/bob.html", "http://www.example.com/", "http://www.example.com/bob.html", "root dir1"},
		{"bob.html", "http://www.example.com/", "http://www.example.com/bob.html", "root dir2"},
		{"bob", "http://www.example.com/", "http://www.example.com/bob", "root dir3"},
		{"bob", "http://www.example.com", "http://www.example.com/bob", "root dir4"},
		{"http://print.bob.com/bob", "http://www.example.com", "http://print.bob.com/bob", "root dir5"},
		{"bob", "http://www.example.com/a", "http://www.example.com/a/bob", "sub dir1"},
		{"bob.html?a=1", "http://www.example.com/a", "http://www.example.com/a/bob.html?a=1", "query 1"},
		{"bob?a=1&b=2", "http://www.example.com/a", "http://www.example.com/a/bob?a=1&b=2", "query 2"},
		{"/?a=1&b=2", "http://www.example.com/a", "http://www.example.com/?a=1&b=2", "query 3"},
		{"?a=1&b=2", "http://www.example.com/a", "http://www.example.com/a/?a=1&b=2", "query 4"},
		{"b/b.html?a=1&b=2", "http://www.example.com/a/c", "http://www.example.com/a/c/b/b.html?a=1&b=2", "query 5"},
		{"b/b.html?a=1&b=2?c=4", "http://www.example.com/a/c", "http://www.example.com/a/c/b/b.html?a=1&b=2?c=4", "query 6"},
		{"b#1", "http://www.example.com/", "http://www.example.com/b#1", "fragment 1"},
		{"b?a=1#1", "http://www.example.com/", "http://www.example.com/b?a=1#1", "fragment 2"},
		{"b?a=1#1#2", "http://www.example.com/", "http://www.example.com/b?a=1#1#2", "fragment 3"},
		{"c.html", "http://www.example.com/a/index.html", "http://www.example.com/a/c.html", "file base"},
		{"../x", "http://www.example.com/a/b/", "http://www.example.com/a/x", "parent dir"},
		{"//cdn.example.com/x.js", "https://www.example.com/", "https://cdn.example.com/x.js", "scheme relative"},
		{"./y z", "http://www.example.com/", "http://www.example.com/y%20z", "current dir"},
	}
	for _, tt := range tests {
		got, ok := CanonicalLink(tt.link, tt.base)
		if !ok || got != tt.want {
			t.Errorf("%s: CanonicalLink(%q, %q) = %q, %v want %q", tt.name, tt.link, tt.base, got, ok, tt.want)
		}
	}
}

func TestCanonicalLinkRejects(t *testing.T) {
	tests := []struct{ link, base string }{
		{"mailto:bob@example.com", "http://www.example.com/"},
		{"javascript:void(0)", "http://www.example.com/"},
		{"../../x", "http://www.example.com/"},
		{"bob", "not a url"},
	}
	for _, tt := range tests {
		if got, ok := CanonicalLink(tt.link, tt.base); ok {
			t.Errorf("CanonicalLink(%q, %q) = %q, expected failure", tt.link, tt.base, got)
		}
	}
}

func TestHost(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"http://www.example.com/a/b?c", "http://www.example.com", true},
		{"https://bob:pw@example.com:8080/", "https://bob:pw@example.com:8080", true},
		{"http:/example.com/x", "http://example.com", true},
		{"/relative", "", false},
	}
	for _, tt := range tests {
		got, ok := Host(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Host(%q) = %q, %v want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHostSubdomains(t *testing.T) {
	got := HostSubdomains("http://www.example.com/a")
	want := []string{"com", ".com", "example.com", ".example.com", "www.example.com", ".www.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
	if HostSubdomains("nohost") != nil {
		t.Error("expected no subdomains without a host")
	}
}

func TestDocumentType(t *testing.T) {
	tests := map[string]string{
		"http://example.com/a/report.PDF": "pdf",
		"http://example.com/a/":           "html",
		"http://example.com":              "html",
		"http://example.com/x.tar.gz?q=1": "gz",
		"http://example.com/dir.d/file":   "html",
	}
	for in, want := range tests {
		if got := DocumentType(in); got != want {
			t.Errorf("DocumentType(%q) = %q want %q", in, got, want)
		}
	}
}

func TestLang(t *testing.T) {
	tests := map[string]string{
		"http://www.example.com/":   "en",
		"http://www.example.qc.ca/": "fr",
		"http://www.example.ca/":    "en",
		"http://www.example.jp/":    "ja",
		"http://www.example.zz/":    "",
	}
	for in, want := range tests {
		if got := Lang(in); got != want {
			t.Errorf("Lang(%q) = %q want %q", in, got, want)
		}
	}
}

func TestIsRecursive(t *testing.T) {
	if !IsRecursive("http://a.com/x/x/x/x/x", 3) {
		t.Error("expected repeated path to be recursive")
	}
	if IsRecursive("http://a.com/x/y/z", 3) {
		t.Error("plain path flagged as recursive")
	}
}

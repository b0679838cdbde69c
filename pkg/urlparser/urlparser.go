// Package urlparser resolves and inspects crawled URLs: canonical links,
// hosts, subdomains, document types and host languages.
package urlparser

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	parentDirRe  = regexp.MustCompile(`(/\w+/\.\./)+`)
	currentDirRe = regexp.MustCompile(`(\./)+`)
	schemeRe     = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.\-]*):`)
)

func scheme(link string) string {
	m := schemeRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// IsHTTP reports whether link has no scheme or an http(s) one.
func IsHTTP(link string) bool {
	s := scheme(link)
	return s == "" || s == "http" || s == "https"
}

// HasHost reports whether link is absolute.
func HasHost(link string) bool {
	u, err := url.Parse(link)
	return err == nil && u.Host != ""
}

// Host returns scheme://[user:pass@]host[:port] of an absolute URL.
func Host(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	if u.Host == "" {
		// common typo http:/example.com
		if u.Path == "" {
			return "", false
		}
		u, err = url.Parse(u.Scheme + ":/" + u.Path)
		if err != nil || u.Host == "" {
			return "", false
		}
	}
	host := u.Scheme + "://"
	if u.User != nil {
		if pass, ok := u.User.Password(); ok {
			host += u.User.Username() + ":" + pass + "@"
		}
	}
	return host + u.Host, true
}

// HostName returns the host of link without scheme, login or port.
func HostName(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Path returns the escaped path of link.
func Path(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.EscapedPath()
}

// HostSubdomains lists the domain suffixes of the host of link, each with
// and without a leading dot, from the top level domain down.
func HostSubdomains(link string) []string {
	host := HostName(link)
	if host == "" {
		return nil
	}
	parts := strings.Split(host, ".")
	out := make([]string, 0, 2*len(parts))
	domain := ""
	for i := len(parts) - 1; i >= 0; i-- {
		domain = parts[i] + domain
		out = append(out, domain)
		domain = "." + domain
		out = append(out, domain)
	}
	return out
}

// DocumentType is the file extension of the path of link, html when it has
// none.
func DocumentType(link string) string {
	_, base := splitPath(Path(link))
	if i := strings.LastIndexByte(base, '.'); i >= 0 && i < len(base)-1 {
		return strings.ToLower(base[i+1:])
	}
	return "html"
}

// IsRecursive reports whether the path segments of link repeat more than
// threshold times, which usually means a crawler trap.
func IsRecursive(link string, threshold int) bool {
	parts := strings.Split(link, "/")
	repeats := 0
	for i := range parts {
		for j := 0; j < i; j++ {
			if parts[j] == parts[i] {
				repeats++
			}
		}
	}
	return repeats > threshold
}

// splitPath splits a path into directory and base name. Trailing slashes are ignored
// and the directory of a top level name is "/".
func splitPath(p string) (dir, base string) {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		if p == "" {
			return "", ""
		}
		return "/", ""
	}
	i := strings.LastIndexByte(trimmed, '/')
	switch {
	case i < 0:
		return ".", trimmed
	case i == 0:
		return "/", trimmed[1:]
	}
	return trimmed[:i], trimmed[i+1:]
}

// CanonicalLink resolves link against the page base it was found on and
// normalises the result. It fails for non-http(s) links and for paths that
// still climb above the root after ".." segments are collapsed.
func CanonicalLink(link, base string) (string, bool) {
	if !IsHTTP(link) {
		return "", false
	}
	if strings.HasPrefix(link, "//") {
		if strings.HasPrefix(strings.ToLower(base), "https") {
			link = "https:" + link
		} else {
			link = "http:" + link
		}
	}

	var host, path, query, fragment string
	if HasHost(link) {
		u, err := url.Parse(link)
		if err != nil {
			return "", false
		}
		var ok bool
		if host, ok = Host(link); !ok {
			return "", false
		}
		path, query, fragment = u.EscapedPath(), u.RawQuery, u.EscapedFragment()
	} else {
		var ok bool
		if host, ok = Host(base); !ok {
			return "", false
		}
		rest, frag, _ := strings.Cut(link, "#")
		linkPath, q, _ := strings.Cut(rest, "?")
		query, fragment = q, frag
		if strings.HasPrefix(linkPath, "/") {
			path = linkPath
		} else {
			dir, name := splitPath(Path(base))
			if dir == "." {
				dir = ""
			}
			path = dir
			if name != "" && !strings.Contains(name, ".") {
				path += "/" + name
			}
			if link != "" {
				path += "/" + linkPath
			}
		}
	}

	path = parentDirRe.ReplaceAllString(path, "/")
	if strings.Contains(path, "../") {
		return "", false
	}
	path = currentDirRe.ReplaceAllString(path, "")
	path = strings.ReplaceAll(path, " ", "%20")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.ReplaceAll(path, "/./", "/")
	if path == "." || strings.HasSuffix(path, "/.") || path == "" {
		path = "/"
	}

	out := host + path
	if query != "" {
		out += "?" + query
	}
	if fragment != "" {
		out += "#" + fragment
	}
	return out, true
}

package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// Scope describes where a successful response may end up after redirects
type Scope struct {
	// AllowedHosts lists acceptable final hosts; empty allows any
	AllowedHosts []string
	// RequiredMarkers must all appear in the final URL
	RequiredMarkers []string
	// IDParam, when set, must keep the value it had in the requested URL
	IDParam string
}

// Check returns an empty string when final is inside the scope, or the reason it is not
func (s Scope) Check(requested, final *url.URL) string {
	if final == nil {
		return ""
	}
	if len(s.AllowedHosts) > 0 && !containsFold(s.AllowedHosts, final.Hostname()) {
		return fmt.Sprintf("redirected off domain to %s", final.Host)
	}
	if final.Path == "" || final.Path == "/" {
		if requested != nil && requested.Path != final.Path {
			return "redirected to site root"
		}
	}
	location := final.String()
	for _, marker := range s.RequiredMarkers {
		if !strings.Contains(location, marker) {
			return fmt.Sprintf("final location lacks %q", marker)
		}
	}
	if s.IDParam != "" && requested != nil {
		want := requested.Query().Get(s.IDParam)
		got := final.Query().Get(s.IDParam)
		if want != "" && got != want {
			return fmt.Sprintf("redirected from %s=%s to %s=%s", s.IDParam, want, s.IDParam, got)
		}
	}
	return ""
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// Package links builds and resolves the hyperlinks embedded in resource views.
package links

import (
	"net/url"
	"strings"

	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
)

const (
	// Prefix is the canonical mount point of the v2 API.
	Prefix = "/telemetry/v2"

	resourcesSegment = "/v2/resources/"
	selfRel          = "self"
)

// Self is the canonical URL of a resource.
func Self(base resourcedomain.LinkBase, resourceID string) string {
	return root(base) + Prefix + "/resources/" + url.PathEscape(resourceID)
}

// Meter is the URL listing samples of one counter for a resource.
func Meter(base resourcedomain.LinkBase, resourceID, counterName string) string {
	q := url.Values{}
	q.Set("q.field", "resource_id")
	q.Set("q.value", resourceID)
	return root(base) + Prefix + "/meters/" + url.PathEscape(counterName) + "?" + q.Encode()
}

// ForResource returns the self link followed by one link per counter name.
// counterNames must already be ordered.
func ForResource(base resourcedomain.LinkBase, resourceID string, counterNames []string) []resourcedomain.Link {
	out := make([]resourcedomain.Link, 0, len(counterNames)+1)
	out = append(out, resourcedomain.Link{Href: Self(base, resourceID), Rel: selfRel})
	for _, name := range counterNames {
		out = append(out, resourcedomain.Link{Href: Meter(base, resourceID, name), Rel: name})
	}
	return out
}

// ResourceID extracts the resource id from an absolute or relative self link.
func ResourceID(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", resourcedomain.ErrInvalidLink
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", resourcedomain.ErrInvalidLink
	}

	path := u.EscapedPath()
	idx := strings.LastIndex(path, resourcesSegment)
	if idx < 0 {
		return "", resourcedomain.ErrInvalidLink
	}
	escaped := strings.TrimSuffix(path[idx+len(resourcesSegment):], "/")
	if escaped == "" || strings.Contains(escaped, "/") {
		return "", resourcedomain.ErrInvalidLink
	}
	id, err := url.PathUnescape(escaped)
	if err != nil || id == "" {
		return "", resourcedomain.ErrInvalidLink
	}
	return id, nil
}

func root(base resourcedomain.LinkBase) string {
	return strings.TrimRight(string(base), "/")
}

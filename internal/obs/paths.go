package obs

import "strings"

// collections whose next path segment is a resource identifier.
var idCollections = map[string]bool{
	"invoices": true,
	"clients":  true,
	"projects": true,
	"rates":    true,
	"mappings": true,
	"runs":     true,
}

// CanonicalPath collapses resource identifiers to ":id" so metric labels
// stay low-cardinality: /v1/billing/invoices/01ABC/issue becomes
// /v1/billing/invoices/:id/issue.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segs := strings.Split(path, "/")
	for i := 0; i < len(segs)-1; i++ {
		if idCollections[segs[i]] && segs[i+1] != "" {
			segs[i+1] = ":id"
			i++
		}
	}
	return strings.Join(segs, "/")
}

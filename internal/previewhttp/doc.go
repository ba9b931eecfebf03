// Package previewhttp serves an archive snapshot over HTTP the way a servlet
// container would expose it: static entries are reachable by path, while
// WEB-INF and META-INF stay private. It also exposes health, entry listing,
// and metrics endpoints for local inspection.
package previewhttp

// Package container holds the fluent builder layer over archive.Archive.
//
// Base[T] is the generic core: it owns the archive, the resource filesystem
// used to resolve named resources, the fetcher used for URL assets, and a
// sticky error. T is the concrete builder type so that every call returns
// the caller's own type and chains without casts.
//
// Web[T] and Manifest[T] are mixins that add convenience entry points for a
// fixed root (WEB-INF, META-INF). Each one normalizes its arguments into a
// single canonical call, an asset at a path beneath its root, and delegates
// to Base.Add.
//
// Errors are sticky: the first failure is recorded and returned by Err,
// every later call is a no-op, and a failed call never mutates the archive.
package container

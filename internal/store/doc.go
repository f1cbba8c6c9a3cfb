// Package store defines interfaces for persistence dependencies (posts, crawl
// sessions, author profiles). Implementations live in other packages; this
// package must not import database drivers or concrete clients.
package store

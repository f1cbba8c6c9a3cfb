// Package board is the crawl client for a single discussion board. It runs
// the author search, visits each listed article through an anti-bot session,
// and returns raw posts filtered by exact author and a look-back window.
package board

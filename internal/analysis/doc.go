// Package analysis turns post text into a fixed-shape investment read. It asks
// a local generation service first, parses the free-text reply defensively,
// and falls back to deterministic keyword rules when the service is slow,
// down or unintelligible.
package analysis

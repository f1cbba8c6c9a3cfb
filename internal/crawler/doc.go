// Package crawler holds the domain model shared by the board client, the
// analysis pipeline, the stores and the orchestrator: posts, analyses,
// crawl sessions and the small collaborator interfaces that tie them
// together. It also owns the request pacing primitives (jittered backoff and
// politeness pauses) used by the board session.
package crawler

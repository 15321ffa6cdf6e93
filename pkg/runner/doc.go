// Package runner drives one conversational agent run end to end: it
// serializes run requests onto session and global lanes, opens the agent
// session, interprets the streamed event flow into deduplicated reply
// blocks, rides out autonomous memory-compaction cycles, enforces
// timeout/cancellation, and assembles the final reply payload.
package runner

// Package core defines the shared data model of Loom: conversations, their
// messages, and the persistence contract the rest of the system talks to.
// Higher level packages (conversation, runner, stream) depend on core but
// never the other way around.
package core

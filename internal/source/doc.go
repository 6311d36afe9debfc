// Package source orchestrates a space, a rule set and a remote.
//
// Sync answers a template from the space and, when the resolver asks for
// it, refreshes it from the remote. SyncRemote applies actions locally,
// queues them for remote delivery by priority and reports a per-action
// outcome. Await blocks until every submitted job, including jobs added
// while waiting, has finished and its callbacks have been published.
//
// Remote work runs on a bounded worker pool. Completion callbacks run on a
// Publisher, so subscribers see the updates of one Result in order without
// synchronizing themselves.
package source

// Package feed defines the domain types shared by the aggregation engine:
// notifications, read-side filters, the persisted watcher configuration and
// its partial-update patches, and the event names published on the bus.
//
// JSON field names are camelCase because both persisted documents
// (watchers.json, notifications.json) are operator-visible artifacts and
// older files must keep loading as fields are added.
package feed

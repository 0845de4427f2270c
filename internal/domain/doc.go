// Package domain defines the core types of the engagement tracker.
//
// Types in this package are pure value objects. They have no database
// dependencies and no HTTP concerns, and they are the shared language
// between the handlers, the tracking service and the record stores.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and pure state-transition methods are allowed
//   - Constants and enums belong here
package domain

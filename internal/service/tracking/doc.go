// Package tracking implements the engagement tracking core: registering
// tracking records while rewriting outgoing HTML, resolving pixel and link
// requests, and deriving campaign and contact engagement from the stored
// records.
//
// The service depends only on the Store interface defined in this package.
// Store implementations live in repository/memory, repository/file,
// repository/postgres, repository/redis, repository/sqlite and
// repository/dynamo.
package tracking

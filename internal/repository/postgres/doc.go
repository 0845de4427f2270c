// Package postgres implements the tracking store on PostgreSQL via lib/pq.
package postgres

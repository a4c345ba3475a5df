// Package mysql opens the MySQL connection pool, applies the embedded schema
// migrations and stores pinned receipt documents.
package mysql

// Package database provides connection pool management for the SQL mirror.
package database

// Package storage provides persistent storage for polls, votes and scheduled
// reminders. BadgerDB is the default embedded backend; SQLite and PostgreSQL
// are available through database/sql behind the same Store interface
package storage

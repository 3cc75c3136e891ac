// Package mysql persists the activity feed: every dispatched action leaves one
// record with its outcome, transaction hash and display summary. A file backed
// repository serves local development and MySQL serves deployments, with the
// schema managed by embedded migrations.
package mysql

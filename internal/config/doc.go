// Package config loads the daemon's JSON configuration and fills in defaults
// for every section that is left empty.
package config

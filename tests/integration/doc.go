// Package integration runs the data-access layer against real Postgres and
// Redis containers. Run with: go test -tags integration ./tests/integration/...
package integration

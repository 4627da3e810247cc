// Command dataaccess serves and syncs upstream records backed by a pooled
// SQL database.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

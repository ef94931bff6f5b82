package main

import (
	"os"

	"doc-ingest-service/cmd/docctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command download fetches an interpreter module or other test fixture to a
// local file. The reference may use any scheme the source package reads.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/caffeineduck/pyhost/source"
	log "github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: download <ref> <output>")
		os.Exit(1)
	}

	ref, output := os.Args[1], os.Args[2]

	if _, err := os.Stat(output); err == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	data, err := source.NewFetcher(source.WithLogger(log.WithField("tool", "download"))).FetchBytes(ctx, ref)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := os.WriteFile(output, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

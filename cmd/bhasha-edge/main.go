// Bhasha-edge is the public gateway for the Bhasha translation service:
// CORS, API key auth and quotas, edge response caching, Stripe key
// lifecycle, and the shielded proxy to the private origin translator.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/bhasha.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("bhasha-edge", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

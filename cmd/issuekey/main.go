// Command issuekey mints a new webhook shared secret in the
// key-service-version-token-secret format and prints both the full key
// (to hand to the tenant once) and its masked display form (safe to put
// in onboarding tickets or logs).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mediaqueue/jobqueue/internal/infrastructure/keygen"
)

func main() {
	service := flag.String("service", "mediaqueue", "service name embedded in the key")
	version := flag.String("version", "v1", "key version embedded in the key")
	flag.Parse()

	parts, err := keygen.GenerateAPIKey("sk", *service, *version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuekey: %v\n", err)
		os.Exit(1)
	}

	// round-trip before handing it out: a key that doesn't parse back is
	// a key that will never authenticate against WORKER_SHARED_SECRET.
	if _, err := keygen.ParseAPIKey(parts.FullKey); err != nil {
		fmt.Fprintf(os.Stderr, "issuekey: generated key failed round-trip parse: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("full key (set as WORKER_SHARED_SECRET, share once):\n  %s\n", parts.FullKey)
	fmt.Printf("display key (safe to log/store):\n  %s\n", parts.GetDisplayKey())
	fmt.Printf("masked (safe for audit trails):\n  %s\n", keygen.MaskAPIKey(parts.FullKey))
}

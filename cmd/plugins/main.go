// Command plugins is the operator CLI for the studio plugin subsystem:
// browse the registry, inspect and verify manifests, and manage the local
// install records.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/lumilio-photos/studio/manifest"
	"github.com/lumilio-photos/studio/registry"
	"github.com/lumilio-photos/studio/store"
	"github.com/lumilio-photos/studio/trust"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: plugins [flags] <command> [args]

Commands:
  catalog [panel]          List plugins the registry offers
  show <id> [version]      Print a plugin's raw manifest (no trust checks)
  verify <id> [version]    Run the full trust pipeline for a plugin
  revocations              Print the registry's revocation list
  install <id> <version>   Record a plugin as installed
  uninstall <id>           Remove a plugin's install record
  list                     List installed plugins

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		registryURL = flag.String("registry", "https://plugins.lumilio.app", "Registry base URL")
		keyRingPath = flag.String("keys", "", "Path to key ring JSON (required for verify)")
		allowOrigin = flag.String("origin", "", "Allowed origin for manifest entry URLs")
		panelName   = flag.String("panel", "", "Expected mount panel for verify")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	command := flag.Arg(0)
	ctx := context.Background()

	switch command {
	case "catalog", "show", "verify", "revocations":
		var ring trust.KeyRing
		if *keyRingPath != "" {
			data, err := os.ReadFile(*keyRingPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading key ring: %v\n", err)
				os.Exit(1)
			}
			if err := json.Unmarshal(data, &ring); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing key ring: %v\n", err)
				os.Exit(1)
			}
		}
		cfg := registry.DefaultConfig(*registryURL)
		cfg.AllowedOrigin = *allowOrigin
		client, err := registry.NewClient(cfg, ring)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		runRegistryCommand(ctx, client, command, *panelName, *keyRingPath)
	case "install", "uninstall", "list":
		installs, err := store.Open()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening install store: %v\n", err)
			os.Exit(1)
		}
		runStoreCommand(installs, command)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		usage()
		os.Exit(1)
	}
}

func runRegistryCommand(ctx context.Context, client *registry.Client, command, panelName, keyRingPath string) {
	switch command {
	case "catalog":
		var panel manifest.Panel
		if flag.NArg() > 1 {
			parsed, err := manifest.ParsePanel(flag.Arg(1))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			panel = parsed
		}
		summaries, err := client.FetchPluginCatalog(ctx, panel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching catalog: %v\n", err)
			os.Exit(1)
		}
		for _, s := range summaries {
			fmt.Printf("%s@%s  panel=%s  %s\n", s.ID, s.LatestVersion, s.Panel, s.DisplayName)
		}
	case "show":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "Error: show requires a plugin id\n")
			os.Exit(1)
		}
		raw, err := client.FetchPluginManifest(ctx, flag.Arg(1), flag.Arg(2))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching manifest: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", raw)
	case "verify":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "Error: verify requires a plugin id\n")
			os.Exit(1)
		}
		if keyRingPath == "" {
			fmt.Fprintf(os.Stderr, "Error: -keys is required for verify\n")
			os.Exit(1)
		}
		var panel manifest.Panel
		if panelName != "" {
			parsed, err := manifest.ParsePanel(panelName)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			panel = parsed
		}
		m, err := client.FetchAndVerifyManifest(ctx, flag.Arg(1), flag.Arg(2), panel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Manifest verified successfully:\n")
		fmt.Printf("  Plugin: %s@%s\n", m.ID, m.Version)
		fmt.Printf("  Panel: %s\n", m.Mount.Panel)
		fmt.Printf("  UI entry: %s\n", m.Entries.UI)
		fmt.Printf("  Key ID: %s\n", m.Signature.KeyID)
	case "revocations":
		records, err := client.FetchPluginRevocations(ctx, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching revocations: %v\n", err)
			os.Exit(1)
		}
		for _, r := range records {
			status := "inactive"
			if r.Active {
				status = "active"
			}
			fmt.Printf("%s@%s  %s  %s\n", r.PluginID, r.Version, status, r.Reason)
		}
	}
}

func runStoreCommand(installs *store.Store, command string) {
	switch command {
	case "install":
		if flag.NArg() < 3 {
			fmt.Fprintf(os.Stderr, "Error: install requires a plugin id and version\n")
			os.Exit(1)
		}
		records, err := installs.Install(flag.Arg(1), flag.Arg(2))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error installing plugin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Installed %s@%s (%d plugins installed)\n", flag.Arg(1), flag.Arg(2), len(records))
	case "uninstall":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "Error: uninstall requires a plugin id\n")
			os.Exit(1)
		}
		records, err := installs.Uninstall(flag.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error uninstalling plugin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Uninstalled %s (%d plugins installed)\n", flag.Arg(1), len(records))
	case "list":
		for _, r := range installs.Read() {
			fmt.Printf("%s@%s  installed %s\n", r.PluginID, r.Version, r.InstalledAt.Format("2006-01-02 15:04:05"))
		}
	}
}

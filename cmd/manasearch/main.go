// Package main is the manasearch CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/manasearch/internal/config"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/manasearch/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml in the current
// directory takes precedence, and a missing default file falls back to built-in defaults.
// It returns the config and the path that was loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				cfg, err := config.Load(local)
				if err != nil {
					return nil, "", err
				}
				return cfg, local, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyEnv(cfg)
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	args := os.Args[2:]
	var err error
	switch command := os.Args[1]; command {
	case "server":
		err = runServer(args)
	case "search":
		err = runSearch(args)
	case "import":
		err = runImport(args)
	case "backfill":
		err = runBackfill(args)
	case "describe":
		err = runDescribe(args)
	case "history":
		err = runHistory(args)
	case "user":
		err = runUser(args)
	case "favorites":
		err = runFavorites(args)
	case "status":
		err = runStatus(args)
	case "watch":
		err = runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("manasearch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// reorderArgs moves flags that appear after positional arguments to the front, since the
// flag package stops at the first non-flag argument ("search deal damage -k 3").
func reorderArgs(args []string) []string {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args so multi-word queries work with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func printUsage() {
	fmt.Println(`manasearch - semantic similarity search for trading cards

Usage:
  manasearch server [flags]               Start the HTTP API
  manasearch search [flags] <query>       Find cards similar to a description
  manasearch import [flags] <file>...     Import cards from JSON (MTGJSON AtomicCards or a card array)
  manasearch backfill [flags]             Embed cards that have no vector yet
  manasearch describe [flags] <id|name>   Show a card and its description
  manasearch history [flags]              Show or clear a user's search history
  manasearch user <action> [flags]        Manage accounts: create, show, delete, list, token
  manasearch favorites [flags]            List, add, or remove a user's favorite cards
  manasearch status [flags]               Show catalog and configuration status
  manasearch watch [flags]                Import card files dropped into the watch directories
  manasearch version                      Show version
  manasearch help                         Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/manasearch/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging

Search Flags:
  --server string    Server URL; when set the query goes over HTTP, otherwise storage is opened directly
  --k int            Number of results (default from config)
  --metric string    L2 or cosine (default from config)
  --user int         Record the search in this user's history (0 = anonymous)
  --token string     Bearer token for --server when the API requires auth
  --output string    text, compact, or json (default: text)

Import Flags:
  --backfill         Embed imported cards right away (default: true)
  --concurrency int  Batches embedded in parallel during backfill (default: 2)

History Flags:
  --user int         User ID (required)
  --page, --per-page Pagination
  --stats            Show summary stats instead of entries
  --clear            Delete the user's history

User Flags:
  --id int           User ID (show, delete)
  --email, --password               Credentials (create, token)
  --first-name, --last-name, --type Profile for create; type is client, game_designer, or admin
  token prints a bearer token for the account (needs auth.jwt_secret)

Favorites Flags:
  --user int         User ID (required)
  --add string       Card ID or exact name to add
  --remove string    Card ID or exact name to remove

Examples:
  manasearch import AtomicCards.json
  manasearch search deal 3 damage to any target
  manasearch search --metric cosine --k 10 "flying creature that draws cards"
  manasearch search --server http://localhost:8080 --output json "counter target spell"
  manasearch describe "Lightning Bolt"
  manasearch history --user 42 --stats
  manasearch user create --email jace@example.com --password s3cret --type admin
  manasearch favorites --user 1 --add "Lightning Bolt"`)
}

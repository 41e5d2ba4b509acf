package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "load", "ingest":
		return runLoad(args[1:])
	case "search":
		return runSearch(args[1:])
	case "feed":
		return runFeed(args[1:])
	case "categories":
		return runCategories(args[1:])
	case "like":
		return runLike(args[1:], true)
	case "unlike":
		return runLike(args[1:], false)
	case "recompute":
		return runRecompute(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newsfeed CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newsfeed <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify storage connectivity")
	fmt.Fprintln(os.Stderr, "  load        Load a JSON-lines article corpus into the index")
	fmt.Fprintln(os.Stderr, "  ingest      Alias for load")
	fmt.Fprintln(os.Stderr, "  search      Keyword search ranked for a user")
	fmt.Fprintln(os.Stderr, "  feed        Page through a user's recommended articles")
	fmt.Fprintln(os.Stderr, "  categories  List known article categories")
	fmt.Fprintln(os.Stderr, "  like        Like an article as a user")
	fmt.Fprintln(os.Stderr, "  unlike      Remove a like")
	fmt.Fprintln(os.Stderr, "  recompute   Run or inspect the recommendation recompute")
	fmt.Fprintln(os.Stderr, "  serve       Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newsfeed <command> -h\" for command-specific flags.")
}

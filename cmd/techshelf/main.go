package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "techshelfd.pid"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "doctor":
		err = cmdDoctor()
	case "config":
		err = cmdConfig()
	case "login":
		err = cmdLogin(args)
	case "register":
		err = cmdRegister(args)
	case "logout":
		err = cmdLogout()
	case "whoami":
		err = cmdWhoami()
	case "profile":
		err = cmdProfile(args)
	case "cart":
		err = cmdCart(args)
	case "add":
		err = cmdAdd(args)
	case "remove", "rm":
		err = cmdRemove(args)
	case "qty":
		err = cmdQuantity(args)
	case "promo":
		err = cmdPromo(args)
	case "checkout":
		err = cmdCheckout(args)
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("techshelf %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`TechShelf - Storefront session and cart

Usage:
  techshelf <command> [arguments]

Setup Commands:
  init            Initialize TechShelf (first-time setup)
  doctor          Check configuration and connectivity
  config          Show current configuration

Daemon Commands:
  start           Start the TechShelf daemon
  stop            Stop the TechShelf daemon
  status          Show daemon, session and cart status
  logs            View daemon logs

Session Commands:
  login <email>   Sign in (prompts for the password)
  register        Create an account and sign in
  logout          Sign out
  whoami          Show the signed-in user
  profile         Show or update the profile (--first-name, --last-name, --username)

Cart Commands:
  cart            Show the cart (cart reload | cart merge | cart clear-guest)
  add <id> [n]    Add n units of a product (default 1)
  remove <id>     Remove a product
  qty <id> <n>    Set the quantity of a line (0 removes it)
  promo <code>    Apply a promotion code
  checkout        Place an order (see 'techshelf checkout -h')

Integration Commands:
  mcp             Start MCP server on stdio

Other:
  help            Show this help message
  version         Show version information

Examples:
  techshelf start                      # Start daemon
  techshelf add prod_42 2              # Add two units as a guest
  techshelf login ada@example.com      # Sign in; the guest cart is merged
  techshelf promo SAVE10               # Apply a discount code`)
}

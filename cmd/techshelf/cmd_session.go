package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

// sessionView mirrors the daemon's session status
type sessionView struct {
	State     string              `json:"state"`
	Checked   bool                `json:"checked"`
	User      *domain.UserProfile `json:"user"`
	LastError string              `json:"last_error"`
}

func (s sessionView) describe() string {
	if s.User != nil && s.State == "authenticated" {
		return fmt.Sprintf("signed in as %s <%s>", s.User.Username, s.User.Email)
	}
	if s.LastError != "" {
		return fmt.Sprintf("%s (%s)", s.State, s.LastError)
	}
	return s.State
}

type sessionResult struct {
	User *domain.UserProfile   `json:"user"`
	Cart storefront.CartStatus `json:"cart"`
}

// prompt reads one line from stdin
func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func cmdLogin(args []string) error {
	reader := bufio.NewReader(os.Stdin)

	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		var err error
		if email, err = prompt(reader, "Email: "); err != nil {
			return err
		}
	}
	password, err := prompt(reader, "Password: ")
	if err != nil {
		return err
	}

	var res sessionResult
	if err := call("POST", "/v1/session/login", map[string]string{
		"email":    email,
		"password": password,
	}, &res); err != nil {
		return err
	}

	fmt.Printf("✓ Signed in as %s\n", res.User.Username)
	if res.Cart.ItemCount > 0 {
		fmt.Printf("Cart: %d item(s), total %s\n", res.Cart.ItemCount, res.Cart.Cart.Total.StringFixed(2))
	}
	if res.Cart.LastError != "" {
		fmt.Printf("⚠ %s\n", res.Cart.LastError)
	}
	return nil
}

func cmdRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	username := fs.String("username", "", "display name")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	var err error
	if *username == "" {
		if *username, err = prompt(reader, "Username: "); err != nil {
			return err
		}
	}
	if *email == "" {
		if *email, err = prompt(reader, "Email: "); err != nil {
			return err
		}
	}
	password, err := prompt(reader, "Password: ")
	if err != nil {
		return err
	}
	confirm, err := prompt(reader, "Confirm password: ")
	if err != nil {
		return err
	}

	var res sessionResult
	if err := call("POST", "/v1/session/register", map[string]string{
		"username":         *username,
		"email":            *email,
		"password":         password,
		"confirm_password": confirm,
	}, &res); err != nil {
		return err
	}

	fmt.Printf("✓ Account created, signed in as %s\n", res.User.Username)
	return nil
}

func cmdLogout() error {
	if err := call("POST", "/v1/session/logout", nil, nil); err != nil {
		return err
	}
	fmt.Println("✓ Signed out")
	return nil
}

func cmdWhoami() error {
	var s sessionView
	if err := call("GET", "/v1/session", nil, &s); err != nil {
		return err
	}
	fmt.Println(s.describe())
	return nil
}

func cmdProfile(args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	username := fs.String("username", "", "new display name")
	first := fs.String("first-name", "", "new first name")
	last := fs.String("last-name", "", "new last name")
	upgrade := fs.Bool("upgrade-seller", false, "upgrade the account to a seller account")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var user domain.UserProfile
	update := domain.ProfileUpdate{Username: *username, FirstName: *first, LastName: *last}
	switch {
	case *upgrade:
		if err := call("POST", "/v1/session/upgrade", nil, &user); err != nil {
			return err
		}
		fmt.Println("✓ Account upgraded")
	case !update.IsEmpty():
		if err := call("PUT", "/v1/session/profile", update, &user); err != nil {
			return err
		}
		fmt.Println("✓ Profile updated")
	default:
		if err := call("GET", "/v1/session/profile", nil, &user); err != nil {
			return err
		}
	}

	fmt.Printf("Username: %s\n", user.Username)
	fmt.Printf("Email:    %s\n", user.Email)
	if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
		fmt.Printf("Name:     %s\n", name)
	}
	if user.Role != "" {
		fmt.Printf("Role:     %s\n", user.Role)
	}
	return nil
}

// ABOUTME: Admin CLI for the duplexd messaging server
// ABOUTME: Provisions users, mints tokens and inspects threads over the HTTP API

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/duplexchat/duplex/internal/auth"
)

const banner = `
     _             _                          _           _
  __| |_   _ _ __ | | _____  __      __ _  __| |_ __ ___ (_)_ __
 / _' | | | | '_ \| |/ _ \ \/ /____ / _' |/ _' | '_ ' _ \| | '_ \
| (_| | |_| | |_) | |  __/>  <_____| (_| | (_| | | | | | | | | | |
 \__,_|\__,_| .__/|_|\___/_/\_\     \__,_|\__,_|_| |_| |_|_|_| |_|
            |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	host := os.Getenv("DUPLEX_HOST")
	if host == "" {
		host = "localhost:8080"
	}
	baseURL := "http://" + host

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(baseURL)
	case "user":
		err = cmdUser(baseURL, args)
	case "token":
		err = cmdToken(args)
	case "threads":
		err = cmdThreads(baseURL, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: duplex-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                   Check server health")
	fmt.Println("  user create <username>   Provision a new user")
	fmt.Println("  token <user-id> [ttl]    Mint a bearer token (needs DUPLEX_JWT_SECRET)")
	fmt.Println("  threads <user-id>        List a user's threads")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  DUPLEX_HOST         Server address (default localhost:8080)")
	fmt.Println("  DUPLEX_JWT_SECRET   Secret for minting tokens; must match the server")
}

func cmdStatus(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Println("Server is healthy")
	return nil
}

func cmdUser(baseURL string, args []string) error {
	if len(args) < 2 || args[0] != "create" {
		return fmt.Errorf("usage: duplex-admin user create <username>")
	}
	username := args[1]

	body, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return err
	}

	resp, err := http.Post(baseURL+"/api/users", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	var user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Created user %s\n", user.Username)
	fmt.Printf("  ID: %s\n", user.ID)
	return nil
}

// cmdToken mints a token locally with the shared secret. No server call;
// the secret must match the server's auth.jwt_secret.
func cmdToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: duplex-admin token <user-id> [ttl]")
	}
	userID := args[0]

	ttl := 24 * time.Hour
	if len(args) > 1 {
		parsed, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", args[1], err)
		}
		ttl = parsed
	}

	secret := os.Getenv("DUPLEX_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("DUPLEX_JWT_SECRET is not set")
	}

	token, err := auth.NewJWTVerifier([]byte(secret)).Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func cmdThreads(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: duplex-admin threads <user-id>")
	}
	userID := args[0]

	secret := os.Getenv("DUPLEX_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("DUPLEX_JWT_SECRET is not set")
	}
	token, err := auth.NewJWTVerifier([]byte(secret)).Generate(userID, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/threads", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var threads []struct {
		ID           string    `json:"id"`
		Participants []string  `json:"participants"`
		Created      time.Time `json:"created"`
		Updated      time.Time `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&threads); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(threads) == 0 {
		fmt.Println("No threads")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Participants", "Created", "Updated"})
	for _, t := range threads {
		table.Append([]string{
			t.ID,
			fmt.Sprintf("%v", t.Participants),
			t.Created.Local().Format(time.DateTime),
			t.Updated.Local().Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

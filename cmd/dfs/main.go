// Command dfs is the command-line client for the grid file store. It
// talks to one coordinator (COORDINATOR_URL) and to whichever block
// nodes the coordinator assigns.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/griddfs/griddfs/internal/client"
	"github.com/griddfs/griddfs/internal/config"
)

const usage = `usage: dfs <command> [args]

commands:
  register            create a user (prompts for password)
  login               obtain a token and cache it locally
  put <local> <remote>  upload a file
  get <remote> <local>  download a file
  ls [prefix]         list files under a prefix
  stat <remote>       show file metadata and block placement
  rm <remote>         delete a file
  mkdir <remote>      create a directory
  rmdir <remote>      delete a directory recursively
  nodes               list registered storage nodes

environment:
  COORDINATOR_URL  coordinator base URL (default http://localhost:8000)
  DFS_USER         username for authenticated commands
  DFS_PASSWORD     password (prompted for when unset)
  BLOCK_SIZE       upload block size in bytes (default 65536)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	c := client.New(config.LoadClient())
	ctx := context.Background()

	if err := run(ctx, c, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "dfs: %v\n", err)
		if errors.Is(err, client.ErrDataCorruption) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "register":
		user, pass, err := promptCredential()
		if err != nil {
			return err
		}
		if err := c.Register(ctx, user, pass); err != nil {
			return err
		}
		fmt.Printf("registered %s\n", user)
		return nil

	case "login":
		user, pass, err := promptCredential()
		if err != nil {
			return err
		}
		token, err := c.Login(ctx, user, pass)
		if err != nil {
			return err
		}
		if err := saveToken(token); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Println("logged in")
		return nil

	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: dfs put <local> <remote>")
		}
		if err := authenticate(c); err != nil {
			return err
		}
		if err := c.Put(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("uploaded %s -> %s\n", args[0], args[1])
		return nil

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: dfs get <remote> <local>")
		}
		if err := authenticate(c); err != nil {
			return err
		}
		if err := c.Get(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("downloaded %s -> %s\n", args[0], args[1])
		return nil

	case "ls":
		prefix := "/"
		if len(args) > 0 {
			prefix = args[0]
		}
		if err := authenticate(c); err != nil {
			return err
		}
		entries, err := c.List(ctx, prefix)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-12s %10d  %s\n", e.Status, e.Size, e.Path)
		}
		return nil

	case "stat":
		if len(args) != 1 {
			return fmt.Errorf("usage: dfs stat <remote>")
		}
		if err := authenticate(c); err != nil {
			return err
		}
		meta, err := c.Metadata(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("path:   %s\nowner:  %s\nstatus: %s\nsize:   %d\n", meta.Path, meta.Owner, meta.Status, meta.Size)
		for _, b := range meta.Blocks {
			fmt.Printf("  block %d  %s  %d bytes  %s\n", b.Index, b.BlockID, b.Size, b.NodeEndpoint)
		}
		return nil

	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: dfs rm <remote>")
		}
		if err := authenticate(c); err != nil {
			return err
		}
		if err := c.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil

	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: dfs mkdir <remote>")
		}
		if err := authenticate(c); err != nil {
			return err
		}
		if err := c.Mkdir(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("created %s\n", args[0])
		return nil

	case "rmdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: dfs rmdir <remote>")
		}
		if err := authenticate(c); err != nil {
			return err
		}
		// The removed list already ends with the directory itself.
		removed, err := c.Rmdir(ctx, args[0])
		if err != nil {
			return err
		}
		for _, p := range removed {
			fmt.Printf("removed %s\n", p)
		}
		return nil

	case "nodes":
		nodes, err := c.Nodes(ctx)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			fmt.Printf("%s  free %d/%d  last seen %s\n",
				n.Endpoint, n.Free, n.Capacity, n.LastSeen.Format("2006-01-02 15:04:05"))
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// authenticate installs a credential on the client: a cached token when
// one exists, otherwise the DFS_USER pair with a password prompt.
func authenticate(c *client.Client) error {
	if token, err := loadToken(); err == nil && token != "" {
		c.SetToken(token)
		return nil
	}
	user, pass, err := promptCredential()
	if err != nil {
		return err
	}
	c.SetCredential(user, pass)
	return nil
}

func promptCredential() (string, string, error) {
	user := os.Getenv("DFS_USER")
	if user == "" {
		fmt.Print("username: ")
		if _, err := fmt.Scanln(&user); err != nil {
			return "", "", fmt.Errorf("read username: %w", err)
		}
	}
	pass := os.Getenv("DFS_PASSWORD")
	if pass == "" {
		fmt.Print("password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		pass = string(raw)
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("username and password required")
	}
	return user, pass, nil
}

func tokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".griddfs", "token"), nil
}

func saveToken(token string) error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0o600)
}

func loadToken() (string, error) {
	path, err := tokenPath()
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

package cli

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/session"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "nox.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required for validate")
			}
			if _, err := config.NewLoader().Load(configPath); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})

	return cmd
}

func newPluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List plugins enabled by the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Plugins.Enabled) == 0 {
				fmt.Println("no plugins enabled")
				return nil
			}
			for _, name := range cfg.Plugins.Enabled {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the running server's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Health.Path
			if path == "" {
				path = "/health"
			}

			client := &http.Client{Timeout: 5 * time.Second}
			res, err := client.Get("http://" + cfg.BindAddress() + path)
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			defer res.Body.Close()

			body, _ := io.ReadAll(res.Body)
			fmt.Printf("%d %s\n", res.StatusCode, string(body))
			return nil
		},
	}
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the session store",
	}

	openStore := func() (session.Store, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Session.Storage == "memory" || cfg.Session.Storage == "" {
			return nil, fmt.Errorf("memory sessions are process-local and cannot be inspected externally")
		}
		return session.NewStore(cfg.Session)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.List()
			if err != nil {
				return err
			}
			for _, s := range sessions {
				user := s.UserID
				if user == "" {
					user = "-"
				}
				fmt.Printf("%s\tuser=%s\texpires=%s\n", s.ID, user, s.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Printf("%d session(s)\n", len(sessions))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.CleanupExpired()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired session(s)\n", n)
			return nil
		},
	})

	return cmd
}

// printTail prints the last n lines of a file.
func printTail(path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no log file yet")
			return nil
		}
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

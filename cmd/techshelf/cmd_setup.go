package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/techshelf/internal/config"
	"github.com/felixgeelhaar/techshelf/internal/queue"
)

// cmdInit initializes TechShelf for first-time use
func cmdInit() error {
	fmt.Println("TechShelf - First-Time Setup")
	fmt.Println("============================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Creating ~/.techshelf directory structure... ")
	dir, err := config.EnsureTechshelfDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println("✓")

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Println()
		apiURL, err := prompt(reader, fmt.Sprintf("Store API base URL [%s]: ", cfg.API.BaseURL))
		if err != nil {
			return err
		}
		if apiURL != "" {
			cfg.API.BaseURL = apiURL
		}

		fmt.Print("Creating configuration... ")
		if err := config.SaveLocalConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	fmt.Println()
	fmt.Println("Activity Events (optional)")
	fmt.Println("--------------------------")
	if cfg.Events.RabbitMQURL != "" {
		fmt.Println("RabbitMQ URL: already configured ✓")
	} else {
		mqURL, err := prompt(reader, "RabbitMQ URL for activity events (or press Enter to skip): ")
		if err != nil {
			return err
		}
		if mqURL != "" {
			if err := config.SaveSecrets(config.SecretsConfig{RabbitMQURL: mqURL}); err != nil {
				fmt.Printf("  ⚠ Failed to save: %v\n", err)
			} else {
				fmt.Println("  ✓ Saved to secrets.yaml")
			}
		}
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. techshelf start          # Start the daemon")
	fmt.Println("  2. techshelf doctor         # Verify configuration")
	fmt.Println("  3. techshelf add <product>  # Start a cart")
	fmt.Println()
	fmt.Println("For assistant integration configure MCP with the 'techshelf mcp' command.")

	return nil
}

// cmdDoctor checks configuration and connectivity
func cmdDoctor() error {
	fmt.Println("Checking TechShelf setup...")

	allGood := true

	fmt.Print("Directory: ")
	dir, err := config.TechshelfDir()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Println("✗ not created (run 'techshelf init')")
		allGood = false
	} else {
		fmt.Printf("✓ %s\n", dir)
	}

	fmt.Print("Config:    ")
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		fmt.Println("✓ loaded")

		fmt.Print("Store API: ")
		if err := checkAPI(cfg.API.BaseURL); err != nil {
			fmt.Printf("✗ %v\n", err)
			allGood = false
		} else {
			fmt.Printf("✓ reachable (%s)\n", cfg.API.BaseURL)
		}

		fmt.Print("RabbitMQ:  ")
		if cfg.Events.RabbitMQURL == "" {
			fmt.Println("- not configured (activity events off)")
		} else if err := checkRabbitMQ(cfg.Events.RabbitMQURL, cfg.Events.Queue); err != nil {
			fmt.Printf("✗ %v\n", err)
			allGood = false
		} else {
			fmt.Printf("✓ connected (queue: %s)\n", cfg.Events.Queue)
		}
	}

	fmt.Print("\nDaemon:    ")
	if isRunning() {
		fmt.Println("✓ running")
	} else {
		fmt.Println("✗ not running (run 'techshelf start')")
	}

	fmt.Println()
	if allGood {
		fmt.Println("All checks passed! ✓")
	} else {
		fmt.Println("Some checks failed. Please fix the issues above.")
	}

	return nil
}

// checkAPI reports whether the store API answers at all
func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/products/")
	if err != nil {
		return fmt.Errorf("not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

func checkRabbitMQ(url, queueName string) error {
	conn, err := queue.NewConnection(url, queueName)
	if err != nil {
		return err
	}
	return conn.Close()
}

// cmdConfig shows current configuration
func cmdConfig() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("TechShelf Configuration")

	fmt.Println("\nAPI:")
	fmt.Printf("  base_url: %s\n", cfg.API.BaseURL)
	if cfg.API.MediaBaseURL != "" {
		fmt.Printf("  media_base_url: %s\n", cfg.API.MediaBaseURL)
	}
	fmt.Printf("  timeout: %s\n", cfg.Timeout())
	fmt.Printf("  retry_attempts: %d\n", cfg.API.RetryAttempts)
	fmt.Printf("  coalesce_refresh: %t\n", cfg.API.CoalesceRefresh)

	fmt.Println("\nStorage:")
	fmt.Printf("  driver: %s\n", cfg.Storage.Driver)
	if dir, err := config.TechshelfDir(); err == nil {
		fmt.Printf("  path: %s\n", cfg.StoragePath(dir))
	}

	fmt.Println("\nCart:")
	fmt.Printf("  debounce: %s\n", cfg.Debounce())
	fmt.Printf("  guest_cart_key: %s\n", cfg.Cart.GuestCartKey)

	fmt.Println("\nDaemon:")
	fmt.Printf("  bind: %s\n", cfg.DaemonAddr())
	fmt.Printf("  log_level: %s\n", cfg.Daemon.LogLevel)

	fmt.Println("\nEvents:")
	status := "✗"
	if cfg.Events.RabbitMQURL != "" {
		status = "✓"
	}
	fmt.Printf("  rabbitmq: %s\n", status)
	fmt.Printf("  queue: %s\n", cfg.Events.Queue)

	dir, _ := config.TechshelfDir()
	fmt.Printf("\nConfig path: %s/config.yaml\n", dir)

	return nil
}

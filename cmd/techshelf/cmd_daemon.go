package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/techshelf/internal/config"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

// cmdStart starts the daemon in the background
func cmdStart() error {
	if isRunning() {
		fmt.Println("✓ Daemon is already running")
		return nil
	}

	dir, err := config.EnsureTechshelfDir()
	if err != nil {
		return fmt.Errorf("setup techshelf directory: %w", err)
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(daemonPath)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil

	// Detach from parent process (platform-specific)
	configureDaemonProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if isRunning() {
			fmt.Println(" ✓")
			fmt.Printf("Daemon running at %s\n", daemonURL())
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon failed to start (check logs with 'techshelf logs')")
}

// cmdStop stops the daemon
func cmdStop() error {
	if !isRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	dir, err := config.TechshelfDir()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(dir, pidFile))
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	// pending quantity updates are flushed before exit
	for i := 0; i < 100; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isRunning() {
			fmt.Println(" ✓")
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon did not stop gracefully")
}

// cmdStatus shows daemon, session and cart status
func cmdStatus() error {
	if !isRunning() {
		fmt.Println("Status: stopped")
		return nil
	}

	var status struct {
		Status        string                `json:"status"`
		Version       string                `json:"version"`
		UptimeSeconds int                   `json:"uptime_seconds"`
		Session       sessionView           `json:"session"`
		Cart          storefront.CartStatus `json:"cart"`
	}
	if err := call("GET", "/v1/status", nil, &status); err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Status:    %s\n", status.Status)
	fmt.Printf("Version:   %s\n", status.Version)
	fmt.Printf("Uptime:    %s\n", time.Duration(status.UptimeSeconds)*time.Second)
	fmt.Printf("Address:   %s\n", daemonURL())
	fmt.Printf("Session:   %s\n", status.Session.describe())
	fmt.Printf("Cart:      %d item(s), total %s (%s)\n",
		status.Cart.ItemCount, status.Cart.Cart.Total.StringFixed(2), status.Cart.Mode)
	if status.Cart.PendingUpdates > 0 {
		fmt.Printf("Pending:   %d quantity update(s)\n", status.Cart.PendingUpdates)
	}

	return nil
}

// cmdLogs prints the tail of the daemon log
func cmdLogs() error {
	dir, err := config.TechshelfDir()
	if err != nil {
		return err
	}

	logPath := filepath.Join(dir, "logs", "techshelfd.log")
	file, err := os.Open(logPath)
	if os.IsNotExist(err) {
		fmt.Println("No log file found. Start the daemon first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	return tail(file, 4096, os.Stdout)
}

// tail copies the last complete lines within size bytes of f to w
func tail(f *os.File, size int64, w io.Writer) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	offset := info.Size() - size
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	if offset > 0 {
		// skip the partial first line
		_, _ = reader.ReadString('\n')
	}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	return scanner.Err()
}

// findDaemonBinary locates the techshelfd binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("techshelfd"); err == nil {
		return path, nil
	}

	// next to this binary
	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "techshelfd")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{
		"/usr/local/bin/techshelfd",
		"./techshelfd",
		"./cmd/techshelfd/techshelfd",
	} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("techshelfd binary not found (build with 'go build ./cmd/techshelfd')")
}

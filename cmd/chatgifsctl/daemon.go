package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Taiwoayodeji/ChatGifs/internal/api"
	"github.com/Taiwoayodeji/ChatGifs/internal/client"
)

// daemonRunning checks if a daemon is running and answering on the socket.
func daemonRunning(socketPath string) bool {
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Call(ctx, api.MethodStatus, nil)
	return err == nil
}

func startDaemon(profileName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "chatgifsd")
	if _, err := os.Stat(daemon); err != nil {
		daemon = "chatgifsd"
	}

	cmd := exec.Command(daemon, "--profile", profileName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if daemonRunning(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

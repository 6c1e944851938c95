// Command dispatchctl is the admin/operator CLI (C14): queue pause/resume/
// status, agent reconnect/list, and job reprioritize, calling the REST
// façade over HTTP. Grounded in fentz26-Neona's cobra-based command tree.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	authToken  string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Operate the dispatch engine's queues, agents, and jobs",
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "dispatch REST façade address")
	root.PersistentFlags().StringVar(&authToken, "token", "", "bearer token, as org_id:user_id")

	root.AddCommand(queueCmd(), agentCmd(), jobsCmd())
	return root
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Pause, resume, or inspect a priority queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "pause <backlog|rework>",
			Short: "Pause a queue for the caller's org",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodPost, "/queues/"+args[0]+"/pause", nil)
			},
		},
		&cobra.Command{
			Use:   "resume <backlog|rework>",
			Short: "Resume a paused queue for the caller's org",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodPost, "/queues/"+args[0]+"/resume", nil)
			},
		},
		&cobra.Command{
			Use:   "status <backlog|rework>",
			Short: "Show a queue's pause state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodGet, "/queues/"+args[0]+"/status", nil)
			},
		},
	)
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "List agents or trigger a reconnect ping",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List agents registered to the caller's org",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodGet, "/agents", nil)
			},
		},
		&cobra.Command{
			Use:   "reconnect <agent-id>",
			Short: "Ping an agent and resume its schedules on success",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodPost, "/agents/"+args[0]+"/reconnect", nil)
			},
		},
	)
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect or reprioritize jobs",
	}

	var position int
	reprioritize := &cobra.Command{
		Use:   "reprioritize <job-id>",
		Short: "Move a queued job to a new position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]int{"position": position})
			if err != nil {
				return err
			}
			return call(http.MethodPost, "/jobs/"+args[0]+"/reprioritize", body)
		},
	}
	reprioritize.Flags().IntVar(&position, "position", 0, "target position in the queue, 0-indexed")

	cmd.AddCommand(
		reprioritize,
		&cobra.Command{
			Use:   "get <job-id>",
			Short: "Show a job's latest version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodGet, "/jobs/"+args[0], nil)
			},
		},
	)
	return cmd
}

// call issues an HTTP request against the REST façade and prints the
// response body, matching the thin request/print shape of the teacher's
// other cobra subcommands.
func call(method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, serverAddr+path, reader)
	if err != nil {
		return err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatchctl: request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("dispatchctl: server returned %s", resp.Status)
	}
	return nil
}

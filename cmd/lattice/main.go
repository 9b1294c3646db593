// Package main is the entry point for the Lattice CLI and server.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/daemon"
	"github.com/simpleflo/lattice/internal/observability"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "lattice",
		Short:   "Lattice - multi-source R&D retrieval orchestrator",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8900",
		"Lattice server address for client commands")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Lattice server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Listen = listen
			}
			if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
				cfg.DataDir = dataDir
			}
			if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat, _ := cmd.Flags().GetString("log-format"); logFormat != "" {
				cfg.LogFormat = logFormat
			}

			observability.SetupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			daemon.Version = Version
			daemon.BuildTime = BuildTime

			d, err := daemon.New(cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			fmt.Fprintf(os.Stderr, "lattice listening on %s\n", cfg.Listen)
			return d.Run()
		},
	}
	cmd.Flags().String("listen", "", "Listen address (default: 127.0.0.1:8900)")
	cmd.Flags().String("data-dir", "", "Data directory (default: ~/.lattice)")
	cmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().String("log-format", "json", "Log format: json, console")
	return cmd
}

type chatReply struct {
	SessionID      string             `json:"session_id"`
	Response       string             `json:"response"`
	QueryType      string             `json:"query_type"`
	QuerySubtype   string             `json:"query_subtype"`
	ContextQuality float64            `json:"context_quality"`
	StageTiming    map[string]float64 `json:"stage_timing"`
	ElapsedMs      float64            `json:"elapsed_ms"`
	Error          string             `json:"error"`
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask a question, or start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			level, _ := cmd.Flags().GetString("level")
			sessionID, _ := cmd.Flags().GetString("session")
			verbose, _ := cmd.Flags().GetBool("verbose")

			if len(args) > 0 {
				reply, err := sendChat(server, strings.Join(args, " "), sessionID, level)
				if err != nil {
					return err
				}
				printReply(cmd.OutOrStdout(), reply, verbose)
				return nil
			}

			// Interactive mode keeps one session across turns.
			fmt.Fprintln(cmd.OutOrStdout(), "대화를 시작합니다. 종료하려면 빈 줄을 입력하세요.")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				question := strings.TrimSpace(scanner.Text())
				if question == "" {
					return nil
				}
				reply, err := sendChat(server, question, sessionID, level)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "오류: %v\n", err)
					continue
				}
				sessionID = reply.SessionID
				printReply(cmd.OutOrStdout(), reply, verbose)
			}
		},
	}
	cmd.Flags().String("level", "", "Answer depth: L1..L6, elementary, general, expert")
	cmd.Flags().String("session", "", "Session ID to continue a conversation")
	cmd.Flags().Bool("verbose", false, "Print timing and classification details")
	return cmd
}

func sendChat(server, query, sessionID, level string) (*chatReply, error) {
	body, err := json.Marshal(map[string]string{
		"query":      query,
		"session_id": sessionID,
		"level":      level,
	})
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Post(server+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("server unreachable at %s: %w", server, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var reply chatReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func printReply(w io.Writer, reply *chatReply, verbose bool) {
	fmt.Fprintln(w, reply.Response)
	if reply.Error != "" {
		fmt.Fprintf(w, "(경고: %s)\n", reply.Error)
	}
	if !verbose {
		return
	}
	fmt.Fprintf(w, "\n[%s/%s] quality=%.2f elapsed=%.0fms session=%s\n",
		reply.QueryType, reply.QuerySubtype, reply.ContextQuality, reply.ElapsedMs, reply.SessionID)
	stages := make([]string, 0, len(reply.StageTiming))
	for stage := range reply.StageTiming {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(w, "  %-18s %8.1fms\n", stage, reply.StageTiming[stage])
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lattice %s (built %s)\n", Version, BuildTime)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			if _, err := url.Parse(server); err != nil {
				return fmt.Errorf("invalid server address: %w", err)
			}

			client := &http.Client{Timeout: 15 * time.Second}
			resp, err := client.Get(server + "/api/v1/status")
			if err != nil {
				return fmt.Errorf("server unreachable at %s: %w", server, err)
			}
			defer resp.Body.Close()

			var status struct {
				Version  string `json:"version"`
				Ready    bool   `json:"ready"`
				Uptime   string `json:"uptime"`
				Sessions int    `json:"sessions"`
				Backends map[string]struct {
					Available bool   `json:"available"`
					Error     string `json:"error"`
				} `json:"backends"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:  %s\n", status.Version)
			fmt.Fprintf(out, "ready:    %v\n", status.Ready)
			fmt.Fprintf(out, "uptime:   %s\n", status.Uptime)
			fmt.Fprintf(out, "sessions: %d\n", status.Sessions)
			fmt.Fprintln(out, "backends:")
			names := make([]string, 0, len(status.Backends))
			for name := range status.Backends {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				b := status.Backends[name]
				if b.Available {
					fmt.Fprintf(out, "  %-14s up\n", name)
				} else {
					fmt.Fprintf(out, "  %-14s down (%s)\n", name, b.Error)
				}
			}
			return nil
		},
	}
}

// Package main implements agentbridge, a daemon that exposes one
// onboarded agent over the A2A protocol: the agent card is served at the
// well-known path and invocations arrive over JSON-RPC, so a remote
// roundtable deployment can discover and call an agent this one owns.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"google.golang.org/genai"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/server/adka2a"
	"google.golang.org/adk/session"

	appconfig "ioacore/internal/config"
	"ioacore/internal/roster"
	"ioacore/internal/storage"
)

// bridgeInstruction is the system instruction for a bridged agent: a
// roundtable participant answers one prompt per invocation, answer first.
const bridgeInstruction = `You answer one task per request. State your answer first, in a single short phrase, followed by any brief reasoning.`

func main() {
	args := appconfig.InitLogging(os.Args[1:])

	fs := flag.NewFlagSet("agentbridge", flag.ContinueOnError)
	agentID := fs.String("agent", "", "onboarded agent id to serve")
	listen := fs.String("listen", "localhost:1200", "listen address")
	externalURL := fs.String("external-url", "", "externally reachable base URL for the agent card")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *agentID == "" {
		fmt.Fprintln(os.Stderr, "usage: agentbridge --agent ID [--listen ADDR] [--external-url URL]")
		os.Exit(2)
	}

	store := storage.NewFileBlobStore(dataRoot())
	r, err := roster.Load(store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(3)
	}
	def, ok := r.Agents[*agentID]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown agent %q: not onboarded\n", *agentID)
		os.Exit(2)
	}
	if def.Vendor != "gemini" {
		fmt.Fprintf(os.Stderr, "agent %q: agentbridge serves gemini-vendor agents; %s agents participate in roundtables in-process\n", def.ID, def.Vendor)
		os.Exit(2)
	}
	apiKey := os.Getenv(def.APIKeyEnv)
	if apiKey == "" {
		fmt.Fprintf(os.Stderr, "agent %q: environment variable %s is not set\n", def.ID, def.APIKeyEnv)
		os.Exit(2)
	}

	ctx := context.Background()
	llm, err := gemini.NewModel(ctx, def.Model, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		slog.Error("failed to create model", "agent", def.ID, "err", err)
		os.Exit(3)
	}

	description := def.DisplayName
	if description == "" {
		description = def.ID
	}
	bridged, err := llmagent.New(llmagent.Config{
		Name:        def.ID,
		Description: description,
		Instruction: bridgeInstruction,
		Model:       llm,
	})
	if err != nil {
		slog.Error("failed to create agent", "agent", def.ID, "err", err)
		os.Exit(3)
	}

	if err := serve(bridged, *listen, *externalURL); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func dataRoot() string {
	if v := os.Getenv("IOA_DATA_ROOT"); v != "" {
		return v
	}
	return "./data"
}

// serve binds listenAddr and blocks serving a: the agent card at the
// well-known path, the JSON-RPC invoke handler, and an in-memory session
// service. externalURL, when set, is what goes on the card in place of
// the listener address, for deployments where the two differ.
func serve(a agent.Agent, listenAddr, externalURL string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", listenAddr, err)
	}

	baseURL := &url.URL{Scheme: "http", Host: listener.Addr().String()}
	if externalURL != "" {
		baseURL, err = url.Parse(externalURL)
		if err != nil {
			return fmt.Errorf("invalid external url %q: %w", externalURL, err)
		}
	}

	const invokePath = "/invoke"
	card := &a2a.AgentCard{
		Name:               a.Name(),
		Description:        a.Description(),
		Skills:             adka2a.BuildAgentSkills(a),
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		URL:                baseURL.JoinPath(invokePath).String(),
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
	}

	mux := http.NewServeMux()
	mux.Handle(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(card))

	executor := adka2a.NewExecutor(adka2a.ExecutorConfig{
		RunnerConfig: runner.Config{
			AppName:        a.Name(),
			Agent:          a,
			SessionService: session.InMemoryService(),
		},
	})
	mux.Handle(invokePath, a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(executor)))

	slog.Info("serving agent over a2a",
		"agent", a.Name(),
		"url", baseURL.String(),
		"card", baseURL.String()+a2asrv.WellKnownAgentCardPath,
	)
	return http.Serve(listener, mux)
}

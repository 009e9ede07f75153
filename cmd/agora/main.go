package main

import (
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/agora-chat/agora/internal/api"
	"github.com/agora-chat/agora/internal/config"
	"github.com/agora-chat/agora/internal/session"
	"github.com/agora-chat/agora/internal/stream"
	"github.com/agora-chat/agora/internal/tui"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	client := api.NewClient(cfg.Client.BaseURL)
	if cfg.Client.AuthToken != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Client.AuthToken)
	}

	var transport stream.Transport
	switch cfg.Client.Transport {
	case "ws":
		transport = stream.NewWSTransport()
		client.SetStreamPath("ws")
	default:
		transport = stream.NewSSETransport()
	}

	sess := session.New(client, transport)
	defer sess.Close()

	// Bubble Tea owns the terminal; stray log lines would tear the screen.
	log.SetOutput(io.Discard)

	p := tea.NewProgram(tui.New(sess), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "agora fatal error: %v\n", err)
		os.Exit(1)
	}
}

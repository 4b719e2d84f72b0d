package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vastai-client/vastai-go/test/mockvast"
)

func main() {
	addr := flag.String("addr", ":8888", "Server address")
	apiKey := flag.String("api-key", "", "Required api_key value (empty accepts any non-empty key)")
	flag.Parse()

	server := mockvast.NewServer(*apiKey)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down mock marketplace...")
		os.Exit(0)
	}()

	log.Printf("Starting mock Vast.ai marketplace on %s", *addr)
	if err := server.Router().Run(*addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

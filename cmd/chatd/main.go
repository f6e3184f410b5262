package main

import (
	"log"

	"chat-client/config"
	"chat-client/logger"
	"chat-client/server"
)

func main() {
	logger.Setup(config.Load())

	srv, err := server.New(config.LoadServer())
	if err != nil {
		log.Fatalf("chatd failed to start: %v", err)
	}
	if err := srv.Run(); err != nil {
		log.Fatalf("chatd exited: %v", err)
	}
}

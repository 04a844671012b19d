package main

import (
	"context"
	"fmt"
	"log"

	"github.com/campusbridge/alumni-connect/internal/config"
	"github.com/campusbridge/alumni-connect/internal/database"
	"github.com/campusbridge/alumni-connect/internal/migrations"
	"github.com/campusbridge/alumni-connect/internal/seeds"
	"github.com/campusbridge/alumni-connect/internal/services"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/campusbridge/alumni-connect/pkg/utils"
)

// Seeds demo alumni and students, opens one conversation and prints bearer tokens
// for trying the chat API by hand.
func main() {
	config.LoadConfig()
	logger.Init(config.AppConfig.Env)

	if err := database.Connect(); err != nil {
		log.Fatalf("Database unavailable: %v", err)
	}
	if err := migrations.NewMigrator(database.DB, database.Models()...).Run(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	users, err := seeds.SeedUsers(database.DB)
	if err != nil {
		log.Fatalf("Seeding users failed: %v", err)
	}

	chat := services.NewConversationService(database.DB, services.NewUserDirectory(database.DB))
	conv, err := seeds.SeedConversation(context.Background(), chat)
	if err != nil {
		log.Fatalf("Seeding conversation failed: %v", err)
	}
	log.Printf("Conversation %s ready", conv.ID)

	fmt.Printf("\nDemo password: %s\n\n", seeds.DemoPassword)
	for _, u := range users {
		token, err := utils.GenerateToken(u.ID)
		if err != nil {
			log.Fatalf("Token for %s: %v", u.ID, err)
		}
		fmt.Printf("%-8s %-18s %s\n  %s\n", u.UserType, u.Name, u.Email, token)
	}
}

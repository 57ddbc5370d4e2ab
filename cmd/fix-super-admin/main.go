package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/database"
	"github.com/stemsi/bursar-backend/internal/logger"
	"github.com/stemsi/bursar-backend/internal/repository"
	"github.com/stemsi/bursar-backend/internal/service"
)

func main() {
	roleID := flag.Int("role-id", 1, "Role that receives every permission")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	adminService := service.NewAdminService(repository.NewAdminRepository(pool), repository.NewRoleRepository(pool))

	fmt.Println("=== Fix Super Admin Permissions ===")
	fmt.Printf("Assigning every permission known to this build to role %d.\n", *roleID)

	codes, err := adminService.GrantAllPermissions(ctx, *roleID)
	if err != nil {
		log.Fatal().Err(err).Int("role_id", *roleID).Msg("Failed to grant permissions")
	}

	fmt.Printf("\nSuccess! Role %d now has %d permissions: %s\n", *roleID, len(codes), strings.Join(codes, ", "))
}

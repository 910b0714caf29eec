package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vsavkov/sitesmith/internal/config"
	"github.com/vsavkov/sitesmith/internal/store"
)

// cmdMigrate applies the schema and exits. Run it before the first serve
// and after every upgrade that ships new migrations.
func cmdMigrate(args []string) {
	cfg := loadConfig(args, config.RoleMigrate)
	log := newLogger(cfg.LogLevel)

	ctx := context.Background()

	st, err := store.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Info().Msg("migrations applied")
}

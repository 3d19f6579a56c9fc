package main

import (
	"database/sql"

	"github.com/dukerupert/debrief/internal/config"
	"github.com/dukerupert/debrief/internal/database"
)

type commandContext struct {
	dbFlag *string
	cfg    *config.Config
}

func newCommandContext(dbFlag *string) *commandContext {
	return &commandContext{dbFlag: dbFlag}
}

// ensureConfig loads the environment configuration once per invocation.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.dbFlag != nil && *c.dbFlag != "" {
		cfg.DBPath = *c.dbFlag
	}
	c.cfg = cfg
	return cfg, nil
}

// withDB opens the database, applying pending migrations, for the duration
// of fn.
func (c *commandContext) withDB(fn func(db *sql.DB) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-reception/pkg/store"
)

func newMigrateCmd(deps cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			logger := newLogger(deps.stderr, cfg)

			pg, err := store.OpenPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			return store.Migrate(cmd.Context(), pg.Pool(), logger)
		},
	}
}

func newSeedCmd(deps cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.json>",
		Short: "Upsert businesses from a JSON seed file into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			seed, err := loadSeed(args[0])
			if err != nil {
				return err
			}
			pg, err := store.OpenPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			for i := range seed.Businesses {
				if err := pg.SaveBusiness(cmd.Context(), &seed.Businesses[i]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d businesses\n", len(seed.Businesses))
			return nil
		},
	}
}

// seedFile is the JSON shape read by `seed` and `serve --seed`. Policies and
// FAQs are only loaded into the in-memory store.
type seedFile struct {
	Businesses []store.Business `json:"businesses"`
	Policies   []store.Policy   `json:"policies"`
	FAQs       []store.FAQ      `json:"faqs"`
}

func loadSeed(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, b := range seed.Businesses {
		if b.ID == "" || b.Name == "" {
			return nil, fmt.Errorf("seed %s: business %d needs id and name", path, i)
		}
	}
	return &seed, nil
}

func (s *seedFile) applyMemory(m *store.Memory) {
	for _, b := range s.Businesses {
		m.PutBusiness(b)
	}
	for _, p := range s.Policies {
		m.AddPolicy(p)
	}
	for _, f := range s.FAQs {
		m.AddFAQ(f)
	}
}

// Command seed loads staff and cases from a JSON file for local development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wolfman30/immigration-casework/internal/app/bootstrap"
	"github.com/wolfman30/immigration-casework/internal/storage/pgtx"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

type seedFile struct {
	Staff []seedStaff `json:"staff"`
	Cases []seedCase  `json:"cases"`
}

type seedStaff struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	Name                 string `json:"name"`
	Active               *bool  `json:"active,omitempty"`
	AcceptsConsultations *bool  `json:"accepts_consultations,omitempty"`
}

type seedCase struct {
	ID              string `json:"id"`
	OwnerUserID     string `json:"owner_user_id"`
	OwnerEmail      string `json:"owner_email"`
	OwnerName       string `json:"owner_name"`
	Status          string `json:"status,omitempty"`
	AssignedStaffID string `json:"assigned_staff_id,omitempty"`
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		fmt.Println("Usage: seed <seed-file.json>")
		fmt.Println("Example: seed cmd/seed/testdata/dev.json")
		os.Exit(1)
	}

	seed, err := loadSeed(os.Args[1])
	if err != nil {
		logger.Error("invalid seed file", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := bootstrap.ConnectPostgres(ctx, os.Getenv("DATABASE_URL"), logger)
	if err != nil || pool == nil {
		logger.Error("DATABASE_URL is required and must be reachable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := apply(ctx, pool, seed); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seed complete", "staff", len(seed.Staff), "cases", len(seed.Cases))
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *seedFile) validate() error {
	var errs []error
	staff := make(map[string]bool, len(s.Staff))
	for i, m := range s.Staff {
		if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Email) == "" {
			errs = append(errs, fmt.Errorf("staff[%d]: id and email are required", i))
		}
		staff[m.ID] = true
	}
	for i, c := range s.Cases {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.OwnerUserID) == "" {
			errs = append(errs, fmt.Errorf("cases[%d]: id and owner_user_id are required", i))
		}
		if c.AssignedStaffID != "" && !staff[c.AssignedStaffID] {
			errs = append(errs, fmt.Errorf("cases[%d]: unknown assigned_staff_id %q", i, c.AssignedStaffID))
		}
	}
	return errors.Join(errs...)
}

func apply(ctx context.Context, db pgtx.DB, seed *seedFile) error {
	return pgtx.WithTx(ctx, db, func(ctx context.Context) error {
		q := pgtx.Q(ctx, db)
		for _, m := range seed.Staff {
			_, err := q.Exec(ctx, `
				INSERT INTO staff (id, email, name, active, accepts_consultations)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name,
					active = EXCLUDED.active, accepts_consultations = EXCLUDED.accepts_consultations`,
				m.ID, m.Email, m.Name, boolOr(m.Active, true), boolOr(m.AcceptsConsultations, true))
			if err != nil {
				return fmt.Errorf("upsert staff %s: %w", m.ID, err)
			}
		}
		for _, c := range seed.Cases {
			status := c.Status
			if status == "" {
				status = "open"
			}
			var assigned *string
			if c.AssignedStaffID != "" {
				assigned = &c.AssignedStaffID
			}
			_, err := q.Exec(ctx, `
				INSERT INTO cases (id, owner_user_id, owner_email, owner_name, status, assigned_staff_id)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET owner_user_id = EXCLUDED.owner_user_id,
					owner_email = EXCLUDED.owner_email, owner_name = EXCLUDED.owner_name,
					status = EXCLUDED.status, assigned_staff_id = EXCLUDED.assigned_staff_id,
					updated_at = now()`,
				c.ID, c.OwnerUserID, c.OwnerEmail, c.OwnerName, status, assigned)
			if err != nil {
				return fmt.Errorf("upsert case %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Package resalt rotates the NSEC3 salt of every policy whose resalt
// period has elapsed, marks every zone that uses it signconf-dirty and
// enqueues an enforce for it, so that the zone's next enforce tick
// schedules a signconf rewrite (spec §4.8, scenario S5).
package resalt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
)

// Enqueuer is the narrow scheduler dependency resalt needs: schedule an
// enforce for every zone whose signer configuration must now be rewritten.
type Enqueuer interface {
	Enqueue(kind, target string, dueAt int64)
}

// Run scans every policy for an overdue NSEC3 resalt and rotates it. It
// opens its own transaction, mirroring every other scheduler-driven task.
func Run(ctx context.Context, db ports.Database, enqueuer Enqueuer, now int64, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin resalt transaction: %v", domain.ErrDatabaseUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("failed to roll back resalt transaction", "error", rbErr)
		}
	}()

	policies, err := tx.ListPolicies(ctx)
	if err != nil {
		return err
	}

	zones, err := tx.ListZones(ctx)
	if err != nil {
		return err
	}

	for i := range policies {
		p := &policies[i]
		if p.Denial.Mode != domain.DenialNSEC3 {
			continue
		}
		if p.Denial.SaltLastChange+p.Denial.ResaltPeriod > now {
			continue
		}

		salt, genErr := generateSalt(p.Denial.SaltLength)
		if genErr != nil {
			return fmt.Errorf("generate salt for policy %s: %w", p.Name, genErr)
		}
		p.Denial.Salt = salt
		p.Denial.SaltLastChange = now

		if upsertErr := tx.UpsertPolicy(ctx, p); upsertErr != nil {
			return upsertErr
		}

		logger.Info("resalted policy", "policy", p.Name, "salt", hex.EncodeToString(salt))

		for _, z := range zones {
			if z.PolicyName == p.Name {
				z.SignconfDirty = true
				if updErr := tx.UpdateZone(ctx, &z); updErr != nil {
					return updErr
				}
				enqueuer.Enqueue("enforce", z.Name, now)
			}
		}
	}

	return tx.Commit()
}

func generateSalt(length int) ([]byte, error) {
	if err := domain.ValidateSaltLength(length); err != nil {
		return nil, err
	}
	salt := make([]byte, length)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

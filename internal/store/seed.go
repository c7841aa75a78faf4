package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lacikas/backend/internal/domain"
)

// SeedAccounts builds the initial dev/demo user accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; usedDefaults reports that at
// least one hardcoded dev password was used instead.
func SeedAccounts() (accounts []domain.UserAccount, usedDefaults bool, err error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	usedDefaults = os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == ""

	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		accounts = append(accounts, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return accounts, usedDefaults, nil
}

// DemoTill is the till a fresh dev store starts with: a typical IDR opening
// float.
func DemoTill(storeID string) domain.Till {
	return domain.Till{
		ID:      "till-main",
		StoreID: storeID,
		Name:    "Kasir 1",
		Bills: domain.Bills{
			100000: 2,
			50000:  4,
			20000:  5,
			10000:  10,
			5000:   10,
			2000:   20,
			1000:   20,
			500:    20,
			200:    20,
			100:    20,
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SeedReport says what SeedIfEmpty created.
type SeedReport struct {
	Users        bool
	Till         bool
	UsedDefaults bool
}

// SeedIfEmpty gives an empty repository the dev accounts and, when storeID
// has no tills yet, the demo till.
func SeedIfEmpty(ctx context.Context, repo Repository, storeID string) (SeedReport, error) {
	var report SeedReport

	users, err := repo.ListUsers(ctx)
	if err != nil {
		return report, err
	}
	if len(users) == 0 {
		accounts, usedDefaults, err := SeedAccounts()
		if err != nil {
			return report, err
		}
		for _, account := range accounts {
			if err := repo.CreateUser(ctx, account); err != nil {
				return report, fmt.Errorf("seed user %s: %w", account.Username, err)
			}
		}
		report.Users = true
		report.UsedDefaults = usedDefaults
	}

	tills, err := repo.ListTills(ctx, storeID)
	if err != nil {
		return report, err
	}
	if len(tills) == 0 {
		if _, err := repo.CreateTill(ctx, DemoTill(storeID)); err != nil {
			return report, fmt.Errorf("seed demo till: %w", err)
		}
		report.Till = true
	}
	return report, nil
}

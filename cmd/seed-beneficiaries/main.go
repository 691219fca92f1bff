// seed-beneficiaries loads beneficiary rows from a JSON file into the ledger
// database. Existing rows (matched by id) are left untouched.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//   go run ./cmd/seed-beneficiaries -file beneficiaries.json
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
)

type seedBeneficiary struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone"`
	IdNumber      string  `json:"id_number"`
	Region        string  `json:"region"`
	GrantType     string  `json:"grant_type"`
	PartnerUserId *string `json:"partner_user_id"`
}

func main() {
	fileFlag := flag.String("file", "beneficiaries.json", "path to the beneficiary JSON array")
	flag.Parse()

	raw, err := os.ReadFile(*fileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *fileFlag, err)
		os.Exit(2)
	}
	var seeds []seedBeneficiary
	if err := utils.UnmarshalFromJSON(raw, &seeds); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", *fileFlag, err)
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	now := time.Now().UTC()
	var created, skipped int
	for _, seed := range seeds {
		if seed.ID == "" || seed.Name == "" {
			fmt.Fprintf(os.Stderr, "skipping row without id/name: %+v\n", seed)
			skipped++
			continue
		}
		var count int64
		if err := db.Model(&models.Beneficiary{}).Where("id = ?", seed.ID).Count(&count).Error; err != nil {
			fmt.Fprintf(os.Stderr, "lookup failed for %s: %v\n", seed.ID, err)
			os.Exit(1)
		}
		if count > 0 {
			skipped++
			continue
		}

		beneficiary := models.Beneficiary{
			ID:            seed.ID,
			Name:          seed.Name,
			Phone:         seed.Phone,
			IdNumber:      seed.IdNumber,
			Region:        seed.Region,
			GrantType:     seed.GrantType,
			Status:        models.BeneficiaryStatusActive,
			PartnerUserId: seed.PartnerUserId,
			EnrolledAt:    &now,
		}
		if err := db.Create(&beneficiary).Error; err != nil {
			fmt.Fprintf(os.Stderr, "create failed for %s: %v\n", seed.ID, err)
			os.Exit(1)
		}
		created++
	}

	fmt.Printf("seeded %d beneficiaries (%d skipped)\n", created, skipped)
}

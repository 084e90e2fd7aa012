package cmd

import (
	"fmt"
	"log"
	"time"

	paymentDatamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/payment"
	subscriptionDatamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/subscription"
	userDatamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/clause"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample Telegram users, subscriptions and payments for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp()
		if err != nil {
			log.Fatalf("failed to initialize dependencies: %v", err)
		}
		defer app.DB.Close()
		db := app.Gorm

		if clearData {
			for _, table := range []string{"referral_bonuses", "payment_methods", "payments", "subscriptions", "users"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		referrerCode := "a1b2c3d4e5f6"
		refereeCode := "f6e5d4c3b2a1"
		aliceUsername := "alice_vpn"
		bobUsername := "bob_vpn"
		aliceID := int64(111111111)
		bobID := int64(222222222)

		users := []*userDatamodel.User{
			{
				ID:           aliceID,
				Username:     &aliceUsername,
				FirstName:    "Alice",
				LanguageCode: "ru",
				ReferralCode: &referrerCode,
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			},
			{
				ID:           bobID,
				Username:     &bobUsername,
				FirstName:    "Bob",
				LanguageCode: "en",
				ReferralCode: &refereeCode,
				ReferredByID: &aliceID,
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			},
		}
		for _, u := range users {
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(u).Error; err != nil {
				log.Fatalf("failed to seed user %d: %v", u.ID, err)
			}
		}
		fmt.Println("Seeded users:", aliceUsername, bobUsername)

		subs := []*subscriptionDatamodel.Subscription{
			{
				UserID:    aliceID,
				ExpiresAt: time.Now().AddDate(0, 1, 0),
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			},
			{
				UserID:            bobID,
				ExpiresAt:         time.Now().AddDate(0, 0, 10),
				PromoBonusApplied: true,
				CreatedAt:         time.Now(),
				UpdatedAt:         time.Now(),
			},
		}
		for _, sub := range subs {
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(sub).Error; err != nil {
				log.Fatalf("failed to seed subscription for user %d: %v", sub.UserID, err)
			}
		}
		fmt.Println("Seeded subscriptions")

		paidAt := time.Now().Add(-24 * time.Hour)
		succeededRef := "seed-yk-0001"
		pendingRef := "seed-cp-0001"
		payments := []*paymentDatamodel.Payment{
			{
				UserID:            aliceID,
				Provider:          string(paymentpkg.ProviderYooKassa),
				ProviderPaymentID: &succeededRef,
				Amount:            299,
				Currency:          "RUB",
				Status:            "succeeded",
				Description:       "VPN subscription, 1 month",
				SaleMode:          string(paymentpkg.SaleModeSubscription),
				Quantity:          1,
				PaidAt:            &paidAt,
				CreatedAt:         paidAt.Add(-5 * time.Minute),
				UpdatedAt:         paidAt,
			},
			{
				UserID:            bobID,
				Provider:          string(paymentpkg.ProviderCryptoPay),
				ProviderPaymentID: &pendingRef,
				Amount:            299,
				Currency:          "RUB",
				Status:            paymentpkg.PendingStatus(paymentpkg.ProviderCryptoPay),
				Description:       "VPN subscription, 1 month",
				SaleMode:          string(paymentpkg.SaleModeSubscription),
				Quantity:          1,
				CreatedAt:         time.Now().Add(-30 * time.Minute),
				UpdatedAt:         time.Now().Add(-30 * time.Minute),
			},
		}
		for _, p := range payments {
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(p).Error; err != nil {
				log.Fatalf("failed to seed payment %s: %v", *p.ProviderPaymentID, err)
			}
		}
		fmt.Println("Seeded payments")

		// Print a hash for the ops API so a dev config can be filled in
		// without reaching for an external bcrypt tool.
		password := "password"
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("failed to hash admin password: %v", err)
		}
		fmt.Printf("Sample admin_password_hash for %q: %s\n", password, string(hash))

		fmt.Println("Database seeding completed successfully!")
	},
}

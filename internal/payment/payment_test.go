package payment_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentPkg "github.com/frahmantamala/vpn-billing/internal/payment"
)

var _ = Describe("Provider vocabulary", func() {
	// These strings land in the payments.provider column and in status
	// values; external consumers of the table depend on them verbatim.
	It("should use the persisted provider tags", func() {
		Expect(string(paymentPkg.ProviderYooKassa)).To(Equal("yookassa"))
		Expect(string(paymentPkg.ProviderCryptoPay)).To(Equal("cryptopay"))
		Expect(string(paymentPkg.ProviderFreeKassa)).To(Equal("freekassa"))
		Expect(string(paymentPkg.ProviderPlatega)).To(Equal("platega"))
		Expect(string(paymentPkg.ProviderSeverPay)).To(Equal("severpay"))
		Expect(string(paymentPkg.ProviderStars)).To(Equal("telegram_stars"))
	})

	It("should derive pending statuses from the provider tag", func() {
		Expect(paymentPkg.PendingStatus(paymentPkg.ProviderStars)).To(Equal("pending_telegram_stars"))
		Expect(paymentPkg.PendingStatus(paymentPkg.ProviderYooKassa)).To(Equal("pending_yookassa"))
	})

	It("should accept only known providers", func() {
		Expect(paymentPkg.ProviderStars.Valid()).To(BeTrue())
		Expect(paymentPkg.Provider("stars").Valid()).To(BeFalse())
	})
})

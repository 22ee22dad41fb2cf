package events

// Category groups the business events the platform raises. Each category
// owns a fixed set of specific event names plus one umbrella event that
// fires alongside every specific event in the category.
type Category string

const (
	CategoryInvestment Category = "investment"
	CategoryKYC        Category = "kyc"
	CategoryProperty   Category = "property"
	CategoryROI        Category = "roi"
	CategoryUser       Category = "user"
	CategoryWallet     Category = "wallet"
	CategorySystem     Category = "system"
	CategorySecurity   Category = "security"
)

const (
	InvestmentCreated   = "investment_created"
	InvestmentConfirmed = "investment_confirmed"
	InvestmentCancelled = "investment_cancelled"
	InvestmentRefunded  = "investment_refunded"

	KYCSubmitted = "kyc_submitted"
	KYCApproved  = "kyc_approved"
	KYCRejected  = "kyc_rejected"

	PropertyListed = "property_listed"
	PropertyFunded = "property_funded"
	PropertyClosed = "property_closed"

	ROIDistributed = "roi_distributed"
	ROIAdjusted    = "roi_adjusted"

	UserRegistered = "user_registered"
	UserUpdated    = "user_updated"
	UserDeleted    = "user_deleted"

	WalletCredited          = "wallet_credited"
	WalletDebited           = "wallet_debited"
	WalletWithdrawalRequest = "wallet_withdrawal_requested"

	SystemMaintenance = "system_maintenance"
	SystemAlert       = "system_alert"

	SecurityLoginFailed        = "security_login_failed"
	SecurityPasswordChanged    = "security_password_changed"
	SecuritySuspiciousActivity = "security_suspicious_activity"
)

var catalog = map[Category][]string{
	CategoryInvestment: {InvestmentCreated, InvestmentConfirmed, InvestmentCancelled, InvestmentRefunded},
	CategoryKYC:        {KYCSubmitted, KYCApproved, KYCRejected},
	CategoryProperty:   {PropertyListed, PropertyFunded, PropertyClosed},
	CategoryROI:        {ROIDistributed, ROIAdjusted},
	CategoryUser:       {UserRegistered, UserUpdated, UserDeleted},
	CategoryWallet:     {WalletCredited, WalletDebited, WalletWithdrawalRequest},
	CategorySystem:     {SystemMaintenance, SystemAlert},
	CategorySecurity:   {SecurityLoginFailed, SecurityPasswordChanged, SecuritySuspiciousActivity},
}

// Umbrella returns the category-wide event name subscribers use to listen
// to everything in the category.
func (c Category) Umbrella() string {
	return string(c) + "_event"
}

// Valid reports whether eventType belongs to category.
func Valid(c Category, eventType string) bool {
	for _, e := range catalog[c] {
		if e == eventType {
			return true
		}
	}
	return false
}

// Types returns the specific event names a category owns.
func Types(c Category) []string {
	return append([]string(nil), catalog[c]...)
}

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryInvestment, CategoryKYC, CategoryProperty, CategoryROI,
		CategoryUser, CategoryWallet, CategorySystem, CategorySecurity,
	}
}

package config

import (
	"os"
	"strings"
	"time"
)

// VerifyLedgerOnWrite compares the cached stock/balance with its ledger sum before every posting
// and aborts the posting with a consistency error on divergence.
//
// Set via env:
// - LEDGER_VERIFY_ON_WRITE=false (default true)
func VerifyLedgerOnWrite() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_VERIFY_ON_WRITE")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// InvoiceNumberPrefix is prepended to the invoice sequence number.
func InvoiceNumberPrefix() string {
	v := strings.TrimSpace(os.Getenv("INVOICE_PREFIX"))
	if v == "" {
		return "INV-"
	}
	return v
}

// DefaultPhoneRegion is the ISO region used to parse customer phone numbers without a country code.
func DefaultPhoneRegion() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_DEFAULT_REGION")))
	if v == "" {
		return "IN"
	}
	return v
}

// LedgerLockTTL bounds how long a redis ledger lock may be held by one unit of work.
func LedgerLockTTL() time.Duration {
	secs := intFromEnv("LEDGER_LOCK_TTL_SECONDS", 30)
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// IsProduction reports GO_ENV=production.
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}

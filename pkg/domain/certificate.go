package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CertificateNumberPrefix is the fixed prefix of every issued number.
const CertificateNumberPrefix = "RC"

// Validity windows per issuance type.
const (
	residentialValidityYears = 2
	realEstateValidityDays   = 90
)

// CertificateTypeForKit maps a kit type to the issuance type it implies.
// The mapping is fixed: long-duration kits certify a residence, short-stay
// kits certify a property transaction.
func CertificateTypeForKit(kit KitType) (CertificateType, bool) {
	switch kit {
	case KitLongTerm:
		return CertificateResidential, true
	case KitRealEstateShort:
		return CertificateRealEstate, true
	default:
		return "", false
	}
}

// CertificateDayPrefix renders the 8-digit date segment for a generation day.
func CertificateDayPrefix(day time.Time) string {
	return day.UTC().Format("20060102")
}

// FormatCertificateNumber joins prefix, date segment and a 4-digit
// zero-padded sequence, e.g. RC-20260226-0001.
func FormatCertificateNumber(day time.Time, sequence int) string {
	return fmt.Sprintf("%s-%s-%04d", CertificateNumberPrefix, CertificateDayPrefix(day), sequence)
}

// ParseCertificateSequence extracts the sequence component from a number
// whose date segment matches dayPrefix. Returns false for numbers from other
// days or malformed input.
func ParseCertificateSequence(number, dayPrefix string) (int, bool) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != CertificateNumberPrefix || parts[1] != dayPrefix {
		return 0, false
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

// ValidUntil computes the validity end date from the start date and the
// issuance type: two fixed policies, two years for residential and ninety
// days for real estate. An unrecognized type is a programmer error; issuance
// types are validated before a certificate is generated.
func ValidUntil(certType CertificateType, validFrom time.Time) time.Time {
	from := validFrom.UTC()
	switch certType {
	case CertificateResidential:
		return from.AddDate(residentialValidityYears, 0, 0)
	case CertificateRealEstate:
		return from.AddDate(0, 0, realEstateValidityDays)
	default:
		panic(fmt.Sprintf("unknown certificate type %q", certType))
	}
}

// CertificateIsValid reports whether a certificate vouches at the given
// instant: status must be valid and the validity window not yet elapsed.
func CertificateIsValid(cert Certificate, now time.Time) bool {
	return cert.Status == CertificateValid && !now.UTC().After(cert.ValidUntil)
}

package services

import (
	"fmt"
	"strings"

	"rateshop-service/internal/models"
)

// maxCombinedGirth is the combined length-and-girth limit in inches beyond
// which most carriers apply oversize surcharges or refuse the parcel
const maxCombinedGirth = 165.0

// ValidationResult separates blocking errors from advisory warnings.
// Warnings never block an operation; they ride along on the response.
type ValidationResult struct {
	Errors   []models.FieldMessage
	Warnings []models.FieldMessage
}

// Valid reports whether the input passed validation
func (v ValidationResult) Valid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(field, message string) {
	v.Errors = append(v.Errors, models.FieldMessage{Field: field, Message: message})
}

func (v *ValidationResult) addWarning(field, message string) {
	v.Warnings = append(v.Warnings, models.FieldMessage{Field: field, Message: message})
}

// ValidateAddress checks an address for shipping use. Missing phone is
// advisory only since some carriers require it and others do not.
func ValidateAddress(prefix string, addr models.Address, result *ValidationResult) {
	if strings.TrimSpace(addr.Street) == "" {
		result.addError(prefix+".street", "street is required")
	}
	if strings.TrimSpace(addr.City) == "" {
		result.addError(prefix+".city", "city is required")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		result.addError(prefix+".postalCode", "postal code is required")
	}
	if strings.TrimSpace(addr.Country) == "" {
		result.addError(prefix+".country", "country is required")
	} else if len(addr.Country) != 2 {
		result.addError(prefix+".country", "country must be a 2-letter ISO code")
	}
	if strings.TrimSpace(addr.Phone) == "" {
		result.addWarning(prefix+".phone", "phone number is missing; some carriers require it")
	}
}

// ValidatePackage checks package physicals. Oversize girth produces a
// warning, not an error, since surcharge acceptance is the merchant's call.
func ValidatePackage(pkg models.Package, result *ValidationResult) {
	if pkg.Weight <= 0 {
		result.addError("package.weight", "weight must be greater than zero")
	}
	if pkg.Length <= 0 || pkg.Width <= 0 || pkg.Height <= 0 {
		result.addError("package.dimensions", "all dimensions must be greater than zero")
	}

	if pkg.Length > 0 && pkg.Width > 0 && pkg.Height > 0 {
		if girth := pkg.Girth(); girth > maxCombinedGirth {
			result.addWarning("package.dimensions",
				fmt.Sprintf("combined length and girth %.1f in exceeds %.0f in; carriers may surcharge or refuse this parcel", girth, maxCombinedGirth))
		}
	}
}

// ValidateShipment runs full validation for a quote or purchase request
func ValidateShipment(shipFrom, shipTo models.Address, pkg models.Package) ValidationResult {
	var result ValidationResult
	ValidateAddress("ship_from", shipFrom, &result)
	ValidateAddress("ship_to", shipTo, &result)
	ValidatePackage(pkg, &result)
	return result
}

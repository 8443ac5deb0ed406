package licensing

import "zen.app/cloud/models"

// EntitledThrough is the last major version a license covers. Zero means the
// license covers no version at all.
func EntitledThrough(purchasedMajor, versionsIncluded int) int {
	if versionsIncluded == 0 {
		return 0
	}
	return purchasedMajor + versionsIncluded - 1
}

func IsValidForVersion(purchasedMajor, versionsIncluded, targetMajor int) bool {
	if versionsIncluded == 0 {
		return false
	}
	return targetMajor <= EntitledThrough(purchasedMajor, versionsIncluded)
}

type Calculator struct {
	CurrentMajorVersion int
}

func (c Calculator) IsCurrentlyValid(purchasedMajor, versionsIncluded int) bool {
	return IsValidForVersion(purchasedMajor, versionsIncluded, c.CurrentMajorVersion)
}

type Entitlement struct {
	PurchasedMajorVersion  int `json:"purchased_major_version"`
	VersionsIncluded       int `json:"versions_included"`
	EntitledThroughVersion int `json:"entitled_through_version"`
}

// EntitlementOf reads the stored record only. The tier table is never
// consulted, so later configuration changes cannot alter an issued license.
func EntitlementOf(l *models.License) Entitlement {
	return Entitlement{
		PurchasedMajorVersion:  l.PurchasedMajorVersion,
		VersionsIncluded:       l.VersionsIncluded,
		EntitledThroughVersion: EntitledThrough(l.PurchasedMajorVersion, l.VersionsIncluded),
	}
}

package emulator

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ServiceNames lists the web services advertised in every profile,
// including the two whose shape differs from the rest.
var ServiceNames = []string{
	"account", "calendar", "ckdatabasews", "ckdeviceservice", "cksharews",
	"contacts", "docws", "drivews", "findme", "fmf", "geows", "iworkexportws",
	"iworkthumbnailws", "iwmb", "keyvalue", "mail", "notes", "photos",
	"photosupload", "push", "reminders", "schoolwork", "settings", "ubiquity",
	"uploadimagews",
}

// Profile renders the accountLogin body for account. Service URLs are rooted
// at base; names in drop are left out.
func Profile(account Account, base string, drop []string) gin.H {
	dropped := make(map[string]struct{}, len(drop))
	for _, name := range drop {
		dropped[name] = struct{}{}
	}
	services := gin.H{}
	for _, name := range ServiceNames {
		if _, skip := dropped[name]; skip {
			continue
		}
		entry := gin.H{"url": base + "/" + name, "status": "active"}
		if name == "mail" {
			entry["isMakoAccount"] = false
		}
		services[name] = entry
	}
	services["streams"] = gin.H{"url": base + "/streams", "pcsRequired": true}
	services["mccgateway"] = gin.H{"url": base + "/mccgateway", "pcsRequired": true, "status": []string{}}

	aliases := account.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	fullName := strings.TrimSpace(account.FirstName + " " + account.LastName)
	return gin.H{
		"dsInfo": gin.H{
			"fullName":         fullName,
			"firstName":        account.FirstName,
			"lastName":         account.LastName,
			"primaryEmail":     account.AccountName,
			"appleIdAliases":   aliases,
			"languageCode":     valueOr(account.LanguageCode, "en-us"),
			"locale":           valueOr(account.Locale, "en_US"),
			"countryCode":      valueOr(account.CountryCode, "US"),
			"isManagedAppleID": false,
			"isPaidDeveloper":  false,
			"locked":           false,
		},
		"webservices":       services,
		"hsaTrustedBrowser": true,
	}
}

func valueOr(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

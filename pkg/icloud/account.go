package icloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Service names every account profile must carry. "streams" and
// "mccgateway" are shaped differently and are skipped.
var RequiredWebServices = []string{
	"account",
	"calendar",
	"ckdatabasews",
	"ckdeviceservice",
	"cksharews",
	"contacts",
	"docws",
	"drivews",
	"findme",
	"fmf",
	"geows",
	"iworkexportws",
	"iworkthumbnailws",
	"iwmb",
	"keyvalue",
	"mail",
	"notes",
	"photos",
	"photosupload",
	"push",
	"reminders",
	"schoolwork",
	"settings",
	"ubiquity",
	"uploadimagews",
}

var accountInfoKeys = []string{
	"fullName",
	"firstName",
	"lastName",
	"primaryEmail",
	"appleIdAliases",
	"languageCode",
	"locale",
	"countryCode",
	"isManagedAppleID",
	"isPaidDeveloper",
	"locked",
}

// Account is the profile returned by the token exchange.
type Account struct {
	Info        AccountInfo `json:"dsInfo"`
	WebServices WebServices `json:"webservices"`
}

// AccountInfo is the personal section of the profile.
type AccountInfo struct {
	FullName        string   `json:"fullName"`
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	Email           string   `json:"primaryEmail"`
	Aliases         []string `json:"appleIdAliases"`
	LanguageCode    string   `json:"languageCode"`
	Locale          string   `json:"locale"`
	CountryCode     string   `json:"countryCode"`
	IsManagedID     bool     `json:"isManagedAppleID"`
	IsPaidDeveloper bool     `json:"isPaidDeveloper"`
	Locked          bool     `json:"locked"`
}

// WebService locates one backend of the account.
type WebService struct {
	URL           string `json:"url"`
	Status        string `json:"status"`
	IsMakoAccount *bool  `json:"isMakoAccount,omitempty"`
}

// WebServices maps service names to their endpoints.
type WebServices map[string]WebService

// Lookup returns the named service.
func (services WebServices) Lookup(name string) (WebService, bool) {
	service, ok := services[name]
	return service, ok
}

// Names lists the services in sorted order.
func (services WebServices) Names() []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseAccount decodes a token exchange body. A missing dsInfo field, a
// missing required service or a wrongly typed value is an error.
func ParseAccount(body []byte) (Account, error) {
	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return Account{}, fmt.Errorf("icloud.account.parse: %w", asProfileShape(err))
	}
	return account, nil
}

// UnmarshalJSON requires both profile sections.
func (account *Account) UnmarshalJSON(data []byte) error {
	object, err := requireKeys(data, "dsInfo", "webservices")
	if err != nil {
		return profileShape("account: " + err.Error())
	}
	var info AccountInfo
	if err := json.Unmarshal(object["dsInfo"], &info); err != nil {
		return err
	}
	var services WebServices
	if err := json.Unmarshal(object["webservices"], &services); err != nil {
		return err
	}
	account.Info = info
	account.WebServices = services
	return nil
}

// UnmarshalJSON requires every personal field.
func (info *AccountInfo) UnmarshalJSON(data []byte) error {
	if _, err := requireKeys(data, accountInfoKeys...); err != nil {
		return profileShape("dsInfo: " + err.Error())
	}
	type plain AccountInfo
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return profileShape("dsInfo: " + err.Error())
	}
	*info = AccountInfo(decoded)
	return nil
}

// UnmarshalJSON requires every service in RequiredWebServices and drops the
// rest, so unknown or differently shaped entries never fail decoding.
func (services *WebServices) UnmarshalJSON(data []byte) error {
	object, err := requireKeys(data, RequiredWebServices...)
	if err != nil {
		return profileShape("webservices: " + err.Error())
	}
	decoded := make(WebServices, len(RequiredWebServices))
	for _, name := range RequiredWebServices {
		var service WebService
		if err := json.Unmarshal(object[name], &service); err != nil {
			return profileShape("webservices." + name + ": " + err.Error())
		}
		decoded[name] = service
	}
	*services = decoded
	return nil
}

// UnmarshalJSON requires url and status.
func (service *WebService) UnmarshalJSON(data []byte) error {
	if _, err := requireKeys(data, "url", "status"); err != nil {
		return profileShape(err.Error())
	}
	type plain WebService
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return profileShape(err.Error())
	}
	*service = WebService(decoded)
	return nil
}

func asProfileShape(err error) error {
	var shaped *shapeError
	if errors.As(err, &shaped) {
		return shaped
	}
	return profileShape(err.Error())
}

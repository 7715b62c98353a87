package icloud

import (
	"context"
	"net/url"
	"strings"
)

const calendarService = "calendar"

// FetchCalendarEvents lists events between from and to, interpreted in
// timezone. Dates are passed through unvalidated; the body is returned raw.
func (service *Service) FetchCalendarEvents(ctx context.Context, timezone string, from string, to string) (string, error) {
	return service.Fetch(ctx, calendarService, "/ca/events", calendarParams(service.account.Info.LanguageCode, timezone, from, to))
}

func calendarParams(lang string, timezone string, from string, to string) []QueryParam {
	return []QueryParam{
		{Name: "lang", Value: lang},
		{Name: "usertz", Value: timezone},
		{Name: "startDate", Value: from},
		{Name: "endDate", Value: to},
	}
}

func encodeOrdered(params []QueryParam) string {
	if len(params) == 0 {
		return ""
	}
	var builder strings.Builder
	for index, param := range params {
		if index == 0 {
			builder.WriteByte('?')
		} else {
			builder.WriteByte('&')
		}
		builder.WriteString(url.QueryEscape(param.Name))
		builder.WriteByte('=')
		builder.WriteString(url.QueryEscape(param.Value))
	}
	return builder.String()
}

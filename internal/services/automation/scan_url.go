package automation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/expunge/internal/models"
)

// ExpandScanURL fills a broker's scan URL template with the profile
// query's values. Templates use {token} placeholders and values are
// query escaped. An unresolved token is an error so a broken broker
// file fails loudly instead of scanning the wrong URL.
func ExpandScanURL(template string, query *models.ProfileQuery) (string, error) {
	tokens := map[string]string{
		"firstName":  query.FirstName,
		"middleName": query.MiddleName,
		"lastName":   query.LastName,
		"fullName":   query.FullName(),
		"city":       query.City,
		"state":      query.State,
		"birthYear":  strconv.Itoa(query.BirthYear),
	}

	expanded := template
	for token, value := range tokens {
		expanded = strings.ReplaceAll(expanded, "{"+token+"}", url.QueryEscape(value))
	}

	if i := strings.IndexByte(expanded, '{'); i >= 0 {
		if j := strings.IndexByte(expanded[i:], '}'); j >= 0 {
			return "", fmt.Errorf("unknown scan URL token %s", expanded[i:i+j+1])
		}
	}

	return expanded, nil
}

package automation

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/expunge/internal/models"
)

// ExtractProfiles parses a rendered results page with the broker's
// selectors and returns one record per result element. IDs are left
// empty; the orchestration layer assigns them for records it decides
// are new.
func ExtractProfiles(html string, selectors models.ScanSelectors, brokerID, profileQueryID string) ([]*models.ExtractedProfile, error) {
	if selectors.Result == "" {
		return nil, fmt.Errorf("broker %s has no result selector", brokerID)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	var profiles []*models.ExtractedProfile
	doc.Find(selectors.Result).Each(func(_ int, sel *goquery.Selection) {
		profile := &models.ExtractedProfile{
			BrokerID:       brokerID,
			ProfileQueryID: profileQueryID,
			Name:           text(sel, selectors.Name),
			AlternateNames: texts(sel, selectors.AltNames),
			Addresses:      texts(sel, selectors.Address),
			Relatives:      texts(sel, selectors.Relatives),
		}
		if selectors.Profile != "" {
			if href, ok := sel.Find(selectors.Profile).First().Attr("href"); ok {
				profile.ProfileURL = strings.TrimSpace(href)
			}
		}
		if profile.Name == "" && profile.ProfileURL == "" {
			// Ad blocks and spacer rows match broad result selectors.
			return
		}
		profiles = append(profiles, profile)
	})

	return profiles, nil
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

func texts(sel *goquery.Selection, selector string) []string {
	if selector == "" {
		return nil
	}
	var values []string
	sel.Find(selector).Each(func(_ int, item *goquery.Selection) {
		if v := strings.TrimSpace(item.Text()); v != "" {
			values = append(values, v)
		}
	})
	return values
}

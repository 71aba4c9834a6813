package services

import (
	"reftrack/internal/models"

	"github.com/mssola/user_agent"
)

// ClickEnricher fills the descriptive columns of a click from request metadata.
type ClickEnricher struct {
	geoIPService *GeoIPService
}

func NewClickEnricher(geoIPService *GeoIPService) *ClickEnricher {
	return &ClickEnricher{geoIPService: geoIPService}
}

func (e *ClickEnricher) Enrich(click *models.Click, ipAddress, userAgent string) {
	if e == nil {
		return
	}

	// 1. Parse User Agent
	if userAgent != "" {
		ua := user_agent.New(userAgent)
		if ua.Bot() {
			click.DeviceType = "Bot"
		} else if ua.Mobile() {
			click.DeviceType = "Mobile"
		} else {
			click.DeviceType = "Desktop"
		}
	}

	// 2. GeoIP Lookup
	if e.geoIPService != nil && ipAddress != "" {
		click.Country = e.geoIPService.GetCountry(ipAddress)
	}
}

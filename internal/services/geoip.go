package services

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Metadata() maxminddb.Metadata
	Close() error
}

// GeoIPService maps client IPs to a country name using a local GeoLite2
// database. Without a database every lookup answers "Unknown".
type GeoIPService struct {
	dbPath    string
	logger    *slog.Logger
	geoReader countryReader
	geoLock   sync.RWMutex
}

func NewGeoIPService(dbPath string, logger *slog.Logger) *GeoIPService {
	return &GeoIPService{
		dbPath: dbPath,
		logger: logger,
	}
}

func (s *GeoIPService) Init() {
	if s.dbPath == "" {
		s.logger.Warn("GeoIP: database path not set. Lookups will be disabled.")
		return
	}
	if _, err := os.Stat(s.dbPath); err != nil {
		s.logger.Warn("GeoIP: database missing. Lookups will be disabled.", "path", s.dbPath)
		return
	}

	reader, err := geoip2.Open(s.dbPath)
	if err != nil {
		s.logger.Error("GeoIP: Failed to open database", "path", s.dbPath, "error", err)
		return
	}

	s.use(reader)
}

// use installs reader if it carries country data; City and Country
// editions both do.
func (s *GeoIPService) use(reader countryReader) bool {
	meta := reader.Metadata()
	if !strings.Contains(meta.DatabaseType, "Country") && !strings.Contains(meta.DatabaseType, "City") {
		s.logger.Error("GeoIP: Unsupported database type, lookups disabled", "type", meta.DatabaseType)
		reader.Close()
		return false
	}

	s.geoLock.Lock()
	defer s.geoLock.Unlock()
	if s.geoReader != nil {
		s.geoReader.Close()
	}
	s.geoReader = reader
	s.logger.Info("GeoIP: Loaded database",
		"path", s.dbPath,
		"type", meta.DatabaseType,
		"built", time.Unix(int64(meta.BuildEpoch), 0).UTC().Format(time.DateOnly))
	return true
}

func (s *GeoIPService) Close() {
	s.geoLock.Lock()
	defer s.geoLock.Unlock()
	if s.geoReader != nil {
		s.geoReader.Close()
		s.geoReader = nil
	}
}

func (s *GeoIPService) GetCountry(ipStr string) string {
	if ipStr == "127.0.0.1" || ipStr == "::1" {
		return "Localhost"
	}

	ip := net.ParseIP(ipStr)

	// Close waits for in-flight lookups.
	s.geoLock.RLock()
	defer s.geoLock.RUnlock()

	if s.geoReader == nil {
		return "Unknown"
	}
	if ip == nil {
		return "Invalid IP"
	}

	record, err := s.geoReader.Country(ip)
	if err != nil {
		s.logger.Error("GeoIP: Lookup error", "ip", ipStr, "error", err)
		return "Error"
	}

	if name, ok := record.Country.Names["en"]; ok && name != "" {
		return name
	}
	if record.Country.IsoCode != "" {
		return record.Country.IsoCode
	}
	return "Unknown"
}

package bunny

import "fmt"

// Region selects the storage cluster a zone is homed in. The zero value is
// not valid; use ParseRegion or the constants below.
type Region string

const (
	RegionFalkenstein  Region = "de"
	RegionLondon       Region = "uk"
	RegionNewYork      Region = "ny"
	RegionLosAngeles   Region = "la"
	RegionSingapore    Region = "sg"
	RegionStockholm    Region = "se"
	RegionSaoPaulo     Region = "br"
	RegionJohannesburg Region = "jh"
	RegionSydney       Region = "syd"
)

var regionBaseURLs = map[Region]string{
	RegionFalkenstein:  "https://storage.bunnycdn.com",
	RegionLondon:       "https://uk.storage.bunnycdn.com",
	RegionNewYork:      "https://ny.storage.bunnycdn.com",
	RegionLosAngeles:   "https://la.storage.bunnycdn.com",
	RegionSingapore:    "https://sg.storage.bunnycdn.com",
	RegionStockholm:    "https://se.storage.bunnycdn.com",
	RegionSaoPaulo:     "https://br.storage.bunnycdn.com",
	RegionJohannesburg: "https://jh.storage.bunnycdn.com",
	RegionSydney:       "https://syd.storage.bunnycdn.com",
}

// ParseRegion validates a region code.
func ParseRegion(code string) (Region, error) {
	r := Region(code)
	if _, ok := regionBaseURLs[r]; !ok {
		return "", fmt.Errorf("bunny: unknown storage region %q", code)
	}
	return r, nil
}

// BaseURL returns the API endpoint for the region.
func (r Region) BaseURL() string {
	return regionBaseURLs[r]
}

func (r Region) String() string {
	return string(r)
}

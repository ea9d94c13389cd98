// Package items defines the market vocabulary shared by every other
// package: wear buckets, rarity tiers, and the grammar of market hash
// names.
package items

import "strings"

// Exterior is one of the five wear names that appear as the
// parenthesised suffix of a market hash name.
type Exterior string

const (
	FactoryNew    Exterior = "Factory New"
	MinimalWear   Exterior = "Minimal Wear"
	FieldTested   Exterior = "Field-Tested"
	WellWorn      Exterior = "Well-Worn"
	BattleScarred Exterior = "Battle-Scarred"
)

// Exteriors lists the wear buckets in ascending float order.
var Exteriors = []Exterior{FactoryNew, MinimalWear, FieldTested, WellWorn, BattleScarred}

// WearRange is the float interval owned by an exterior. Min is
// inclusive; Max is exclusive except for Battle-Scarred.
type WearRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

var wearRanges = map[Exterior]WearRange{
	FactoryNew:    {Min: 0.00, Max: 0.07},
	MinimalWear:   {Min: 0.07, Max: 0.15},
	FieldTested:   {Min: 0.15, Max: 0.38},
	WellWorn:      {Min: 0.38, Max: 0.45},
	BattleScarred: {Min: 0.45, Max: 1.00},
}

var exteriorAbbrevs = map[Exterior]string{
	FactoryNew:    "FN",
	MinimalWear:   "MW",
	FieldTested:   "FT",
	WellWorn:      "WW",
	BattleScarred: "BS",
}

// Range returns the float interval for e. Unknown exteriors report a
// zero range.
func (e Exterior) Range() WearRange { return wearRanges[e] }

// Abbrev returns the two-letter short form (FN, MW, FT, WW, BS).
func (e Exterior) Abbrev() string { return exteriorAbbrevs[e] }

func (e Exterior) valid() bool {
	_, ok := wearRanges[e]
	return ok
}

// BucketFor maps a float to its wear bucket. Each boundary belongs to
// the bucket it opens (0.07 is Minimal Wear) and everything at or
// above 0.45 is Battle-Scarred, so the function is total over all
// float inputs.
func BucketFor(f float64) Exterior {
	switch {
	case f < 0.07:
		return FactoryNew
	case f < 0.15:
		return MinimalWear
	case f < 0.38:
		return FieldTested
	case f < 0.45:
		return WellWorn
	default:
		return BattleScarred
	}
}

// Rarity is a weapon quality tier. A trade-up consumes ten items of
// one tier and produces one item of the tier above.
type Rarity string

const (
	Consumer   Rarity = "Consumer"
	Industrial Rarity = "Industrial"
	MilSpec    Rarity = "Mil-Spec"
	Restricted Rarity = "Restricted"
	Classified Rarity = "Classified"
	Covert     Rarity = "Covert"
)

// Rarities lists the tiers in ascending order.
var Rarities = []Rarity{Consumer, Industrial, MilSpec, Restricted, Classified, Covert}

var raritySteamTags = map[Rarity]string{
	Consumer:   "tag_Rarity_Common_Weapon",
	Industrial: "tag_Rarity_Uncommon_Weapon",
	MilSpec:    "tag_Rarity_Rare_Weapon",
	Restricted: "tag_Rarity_Mythical_Weapon",
	Classified: "tag_Rarity_Legendary_Weapon",
	Covert:     "tag_Rarity_Ancient_Weapon",
}

// SteamTag returns the market search facet for r.
func (r Rarity) SteamTag() string { return raritySteamTags[r] }

// Valid reports whether r is one of the six known tiers.
func (r Rarity) Valid() bool {
	_, ok := raritySteamTags[r]
	return ok
}

func (r Rarity) index() int {
	for i, v := range Rarities {
		if v == r {
			return i
		}
	}
	return -1
}

// Below returns the tier one step under r. Consumer has none.
func (r Rarity) Below() (Rarity, bool) {
	i := r.index()
	if i <= 0 {
		return "", false
	}
	return Rarities[i-1], true
}

// Above returns the tier one step over r. Covert has none.
func (r Rarity) Above() (Rarity, bool) {
	i := r.index()
	if i < 0 || i == len(Rarities)-1 {
		return "", false
	}
	return Rarities[i+1], true
}

// ParseRarity matches a tier name or its Steam tag, ignoring case.
func ParseRarity(s string) (Rarity, bool) {
	s = strings.TrimSpace(s)
	for r, tag := range raritySteamTags {
		if strings.EqualFold(s, string(r)) || strings.EqualFold(s, tag) {
			return r, true
		}
	}
	// Common aliases seen in client payloads.
	switch strings.ToLower(s) {
	case "milspec", "mil spec", "mil-spec grade":
		return MilSpec, true
	case "consumer grade":
		return Consumer, true
	case "industrial grade":
		return Industrial, true
	}
	return "", false
}

const (
	statTrakPrefix = "StatTrak™ "
	souvenirPrefix = "Souvenir "
)

// MarketHashName builds the canonical "<base> (<exterior>)" form.
func MarketHashName(base string, ext Exterior) string {
	return base + " (" + string(ext) + ")"
}

// BaseName strips the trailing wear suffix from a market hash name.
// Names without a recognised suffix come back unchanged.
func BaseName(marketHashName string) string {
	base, _, _ := splitWear(marketHashName)
	return base
}

// ParseExterior extracts the wear suffix, defaulting to Field-Tested
// when the name carries none.
func ParseExterior(marketHashName string) Exterior {
	_, ext, ok := splitWear(marketHashName)
	if !ok {
		return FieldTested
	}
	return ext
}

func splitWear(name string) (string, Exterior, bool) {
	s := strings.TrimSpace(name)
	if !strings.HasSuffix(s, ")") {
		return s, "", false
	}
	i := strings.LastIndex(s, " (")
	if i < 0 {
		return s, "", false
	}
	ext := Exterior(s[i+2 : len(s)-1])
	if !ext.valid() {
		return s, "", false
	}
	return s[:i], ext, true
}

// ParsedName is the decomposition of a full listing name into the
// pieces the catalog stores.
type ParsedName struct {
	MarketHashName string
	BaseName       string
	Exterior       Exterior
	StatTrak       bool
	Souvenir       bool
}

// Normal reports whether the item is neither StatTrak nor Souvenir.
func (p ParsedName) Normal() bool { return !p.StatTrak && !p.Souvenir }

// ParseItemName decomposes a listing name as it appears on the
// market. The StatTrak and Souvenir prefixes are excluded from
// BaseName so it matches the float catalog's plain entries.
func ParseItemName(name string) ParsedName {
	p := ParsedName{MarketHashName: strings.TrimSpace(name)}
	rest := p.MarketHashName
	if strings.HasPrefix(rest, souvenirPrefix) {
		p.Souvenir = true
		rest = strings.TrimPrefix(rest, souvenirPrefix)
	}
	if strings.HasPrefix(rest, statTrakPrefix) {
		p.StatTrak = true
		rest = strings.TrimPrefix(rest, statTrakPrefix)
	}
	base, ext, ok := splitWear(rest)
	p.BaseName = base
	p.Exterior = ext
	if !ok {
		p.Exterior = FieldTested
	}
	return p
}

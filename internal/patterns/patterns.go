// Package patterns holds the static Hungarian keyword tables (C1) used by
// the conversation analyzer (C5) to detect areas, domains, and device
// classes mentioned in a message, plus the DB-sourced alias overlay that
// lets a household's custom area names ("gyerekszoba", "műhely", ...)
// extend the base tables at runtime.
package patterns

import "strings"

// AreaPatterns maps a canonical area name to every substring that should
// resolve to it. Substring, not whole-word, matching: Hungarian case
// suffixes ("kertben", "kertből") make stemming unreliable, so pack the
// inflected forms in directly, the way the original service did.
var AreaPatterns = map[string][]string{
	"kert": {
		"kert", "kerti", "kertben", "kertből", "kertnek", "kertet",
		"garden", "kint", "kinn", "outside", "outdoor", "külső", "udvar", "udvari",
	},
	"nappali":      {"nappali", "nappaliban", "nappaliba", "nappalit", "living room"},
	"konyha":       {"konyha", "konyhában", "konyhába", "konyhát", "kitchen"},
	"hálószoba":    {"hálószoba", "hálóban", "hálóba", "hálót", "háló", "bedroom"},
	"fürdőszoba":   {"fürdőszoba", "fürdőben", "fürdőbe", "fürdőt", "fürdő", "bathroom"},
	"dolgozószoba": {"dolgozószoba", "dolgozóban", "dolgozóba", "dolgozót", "iroda", "office"},
	"előszoba":     {"előszoba", "előszobában", "bejárat", "hall", "hallway"},
	"pince":        {"pince", "pincében", "pincébe", "basement"},
	"padlás":       {"padlás", "padláson", "padlásra", "attic"},
	"terasz":       {"terasz", "teraszon", "teraszra", "erkély", "terrace", "balcony"},
	"garázs":       {"garázs", "garázsban", "garage"},
	"ház": {
		"ház", "házban", "házból", "otthon", "benn", "bent",
		"house", "home", "inside", "indoor", "belső",
	},
}

// HouseArea is the generic whole-house area key, boosted differently from a
// specific room (§4.2: "ház" gets the house-wide boost, anything else gets
// the specific-area boost).
const HouseArea = "ház"

// DomainPatterns maps a plain domain to its keyword list. SensorClasses
// holds the sensor domain's device-class breakdown separately because a
// sensor mention always carries both a domain ("sensor") and a device class
// ("temperature", "humidity", ...).
var DomainPatterns = map[string][]string{
	"light":   {"világítás", "lámpa", "light", "lamp", "kapcsold"},
	"switch":  {"kapcsoló", "switch", "kapcsold"},
	"climate": {"klíma", "fűtés", "heating", "cooling", "thermostat"},
	"cover":   {"redőny", "függöny", "blind", "curtain", "cover"},
	"lock":    {"zár", "lock", "kulcs"},
	"alarm":   {"riasztó", "alarm", "security"},
}

// SensorClasses maps a sensor device class to its keyword list. Matching any
// keyword implies both domain "sensor" and the device class.
var SensorClasses = map[string][]string{
	"temperature": {"hőmérséklet", "fok", "meleg", "hideg", "temperature"},
	"humidity":    {"nedveség", "páratartalom", "humid"},
	"illuminance": {"fény", "világítás", "lux", "light"},
	"motion":      {"mozgás", "motion", "jelenl"},
	"door":        {"ajtó", "door"},
	"window":      {"ablak", "window"},
	"energy":      {"energia", "áram", "watt", "energy", "power"},
	"air_quality": {"levegő", "co2", "air"},
}

// ControlWords, ReadWords and FollowUpWords back the regex alternatives of
// the original CONTROL_PATTERNS/READ_PATTERNS/FOLLOW_UP_PATTERNS, collapsed
// into plain substring lists since Go doesn't need a compiled alternation
// for this volume of keywords.
var ControlWords = []string{
	"kapcsold", "indítsd", "állítsd", "turn on", "turn off", "nyisd", "zárd",
	"fel", "le", "be", "ki", "on", "off",
}

var ReadWords = []string{
	"mennyi", "hány", "milyen", "mekkora", "mi", "what", "how",
	"fok", "temperature", "status", "állapot", "érték",
}

var FollowUpWords = []string{
	"és a", "mi a", "what about", "how about",
	"ott", "itt", "there", "here",
	"akkor", "then", "so",
}

// MatchAny reports whether any of words occurs as a substring of the
// already-lowercased text.
func MatchAny(textLower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(textLower, w) {
			return true
		}
	}
	return false
}

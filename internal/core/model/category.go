package model

import "strings"

type Category string

const (
	CategoryBackpack        Category = "backpack"
	CategoryTent            Category = "tent"
	CategorySleepingBag     Category = "sleeping_bag"
	CategorySleepingPad     Category = "sleeping_pad"
	CategoryClothing        Category = "clothing"
	CategoryFootwear        Category = "footwear"
	CategoryCookware        Category = "cookware"
	CategoryStove           Category = "stove"
	CategoryWaterFiltration Category = "water_filtration"
	CategoryLighting        Category = "lighting"
	CategoryTrekkingPoles   Category = "trekking_poles"
	CategoryNavigation      Category = "navigation"
	CategoryAccessories     Category = "accessories"
	CategoryFirstAid        Category = "first_aid"
	CategoryOther           Category = "other"
)

var categoryAliases = map[string]Category{
	"backpack":         CategoryBackpack,
	"pack":             CategoryBackpack,
	"rucksack":         CategoryBackpack,
	"tent":             CategoryTent,
	"shelter":          CategoryTent,
	"tarp":             CategoryTent,
	"sleeping_bag":     CategorySleepingBag,
	"sleeping bag":     CategorySleepingBag,
	"quilt":            CategorySleepingBag,
	"sleeping_pad":     CategorySleepingPad,
	"sleeping pad":     CategorySleepingPad,
	"pad":              CategorySleepingPad,
	"clothing":         CategoryClothing,
	"apparel":          CategoryClothing,
	"jacket":           CategoryClothing,
	"footwear":         CategoryFootwear,
	"shoes":            CategoryFootwear,
	"boots":            CategoryFootwear,
	"cookware":         CategoryCookware,
	"cook":             CategoryCookware,
	"stove":            CategoryStove,
	"water_filtration": CategoryWaterFiltration,
	"water filtration": CategoryWaterFiltration,
	"water filter":     CategoryWaterFiltration,
	"filter":           CategoryWaterFiltration,
	"lighting":         CategoryLighting,
	"headlamp":         CategoryLighting,
	"trekking_poles":   CategoryTrekkingPoles,
	"trekking poles":   CategoryTrekkingPoles,
	"poles":            CategoryTrekkingPoles,
	"navigation":       CategoryNavigation,
	"accessories":      CategoryAccessories,
	"accessory":        CategoryAccessories,
	"first_aid":        CategoryFirstAid,
	"first aid":        CategoryFirstAid,
	"other":            CategoryOther,
}

var placeholders = map[string]bool{
	"":              true,
	"unknown":       true,
	"n/a":           true,
	"na":            true,
	"none":          true,
	"-":             true,
	"--":            true,
	"?":             true,
	"tbd":           true,
	"not specified": true,
	"not found":     true,
	"varies":        true,
	"null":          true,
}

// IsPlaceholder reports whether s is a placeholder meaning "no value".
func IsPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// ParseCategory maps free-form category text onto a known category.
// The boolean is false when the input was empty or a placeholder such as
// "unknown"; anything else unrecognised is CategoryOther.
func ParseCategory(s string) (Category, bool) {
	if IsPlaceholder(s) {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " ")
	if c, ok := categoryAliases[s]; ok {
		return c, true
	}
	if c, ok := categoryAliases[strings.ReplaceAll(s, " ", "_")]; ok {
		return c, true
	}
	if c, ok := categoryAliases[strings.TrimSuffix(s, "s")]; ok {
		return c, true
	}
	return CategoryOther, true
}

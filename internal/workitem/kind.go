package workitem

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a task kind; each kind owns one source prefix.
type Kind string

const (
	KindStory        Kind = "story"
	KindBio          Kind = "bio"
	KindStats        Kind = "stats"
	KindPortrait     Kind = "portrait"
	KindIllustration Kind = "illustration"
	KindWeapon       Kind = "weapon"
	// KindCostume is a hero or equipment costume icon.
	KindCostume Kind = "costume"
	// KindCostumeIllustration is a super costume illustration.
	KindCostumeIllustration Kind = "costume-illustration"
)

// Argument names shared by the filename layouts.
const (
	ArgEntity = "entity"
	ArgRegion = "region"
	ArgGUID   = "guid"
	ArgExt    = "ext"
	// ArgVariant is a leading segment that selects the rest of the layout.
	ArgVariant  = "variant"
	ArgHero     = "hero"
	ArgItemType = "item_type"
)

// Costume variants.
const (
	CostumeHero      = "hero"
	CostumeEquipment = "equipment"
)

type layout struct {
	prefix string
	args   []string
	// variants, when set, maps the first filename segment to the argument
	// list for that variant. Each list starts with ArgVariant.
	variants map[string][]string
}

func (l layout) argsFor(variant string) ([]string, bool) {
	if l.variants == nil {
		return l.args, true
	}
	names, ok := l.variants[variant]
	return names, ok
}

var layouts = map[Kind]layout{
	KindStory:        {prefix: "hero-stories", args: []string{ArgEntity}},
	KindBio:          {prefix: "hero-bios", args: []string{ArgEntity}},
	KindStats:        {prefix: "hero-stats", args: []string{ArgEntity}},
	KindPortrait:     {prefix: "hero-portraits", args: []string{ArgEntity, ArgRegion}},
	KindIllustration: {prefix: "hero-illustrations", args: []string{ArgEntity, ArgRegion}},
	KindWeapon:       {prefix: "weapon-information", args: []string{ArgEntity}},
	KindCostume: {prefix: "costumes", variants: map[string][]string{
		CostumeHero:      {ArgVariant, ArgEntity, ArgHero},
		CostumeEquipment: {ArgVariant, ArgEntity, ArgItemType},
	}},
	KindCostumeIllustration: {prefix: "costume-illustrations", args: []string{ArgVariant, ArgEntity, ArgHero}},
}

// order fixes scan staggering so the same prefix always gets the same offset.
var order = []Kind{
	KindStory, KindPortrait, KindIllustration, KindBio, KindStats, KindWeapon,
	KindCostume, KindCostumeIllustration,
}

// Kinds returns every known kind in scan order.
func Kinds() []Kind {
	return append([]Kind(nil), order...)
}

// Prefix returns the object store folder scanned for this kind.
func (k Kind) Prefix() string {
	return layouts[k].prefix
}

// Args returns the ordered filename arguments preceding the guid. For a kind
// with variants it returns every argument any variant uses, ArgVariant first.
func (k Kind) Args() []string {
	l := layouts[k]
	if l.variants == nil {
		return append([]string(nil), l.args...)
	}
	var out []string
	seen := map[string]bool{}
	for _, variant := range k.Variants() {
		for _, name := range l.variants[variant] {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Variants lists the accepted leading segments, or nil when any value goes.
func (k Kind) Variants() []string {
	l := layouts[k]
	if l.variants == nil {
		return nil
	}
	out := make([]string, 0, len(l.variants))
	for v := range l.variants {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := layouts[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// ParseKind accepts a kind name or its source prefix.
func ParseKind(value string) (Kind, error) {
	value = strings.Trim(strings.ToLower(strings.TrimSpace(value)), "/")
	for _, k := range order {
		if string(k) == value || layouts[k].prefix == value {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown task kind %q", value)
}

// KindForPrefix maps a source prefix back to its kind.
func KindForPrefix(prefix string) (Kind, bool) {
	prefix = strings.Trim(prefix, "/")
	for _, k := range order {
		if layouts[k].prefix == prefix {
			return k, true
		}
	}
	return "", false
}

package tasks

import (
	"context"
	"image"
	"image/color"
	"strings"
	"testing"

	"scribe/internal/enrich"
	"scribe/internal/imaging"
	"scribe/internal/refcache"
	"scribe/internal/workitem"
)

type stubEnricher struct {
	answer string
	last   enrich.Request
}

func (s *stubEnricher) ClassifyJSON(_ context.Context, req enrich.Request, target any) (string, error) {
	s.last = req
	return s.answer, enrich.DecodeJSON(s.answer, target)
}

func mustParse(t *testing.T, kind workitem.Kind, key string) workitem.Item {
	t.Helper()
	item, err := workitem.Parse(kind, key)
	if err != nil {
		t.Fatalf("Parse(%s): %v", key, err)
	}
	return item
}

func TestStatsBuild(t *testing.T) {
	enricher := &stubEnricher{answer: `{"atk": 1234, "def": 0, "hp": 5000, "compatible_equipment": "Rifle",
		"passives": [{"affects_party": true, "stat": "Atk", "value": 12}, {"affects_party": false, "stat": "HP", "value": 5}]}`}
	in := Input{
		Item:        mustParse(t, workitem.KindStats, "hero-stats/lahn_abc.jpg"),
		Entity:      refcache.Entity{ID: 42, Slug: "lahn", Title: "Lahn"},
		EntityFound: true,
		ImageURL:    "https://signed/lahn",
	}
	res, err := Stats().Build(context.Background(), enricher, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if enricher.last.ImageURL != "https://signed/lahn" || enricher.last.System == "" {
		t.Fatalf("request = %+v", enricher.last)
	}
	if res.Fields["hero_id"] != int64(42) || res.Fields["atk"] != float64(1234) {
		t.Fatalf("fields = %#v", res.Fields)
	}
	if eq, ok := res.Fields["compatible_equipment"].([]any); !ok || len(eq) != 1 {
		t.Fatalf("compatible_equipment not normalized: %#v", res.Fields["compatible_equipment"])
	}
	if res.Embed.Title != "Hero Stats - Lahn" {
		t.Fatalf("title = %q", res.Embed.Title)
	}
	labels := map[string]string{}
	for _, f := range res.Embed.Fields {
		labels[f.Name] = f.Value
	}
	if _, ok := labels["DEF"]; ok {
		t.Fatal("zero stats should be omitted from the embed")
	}
	if labels["ATK"] != "1234" {
		t.Fatalf("ATK = %q", labels["ATK"])
	}
	if labels["Passives"] != "[Party] Atk +12%\nHP +5%" {
		t.Fatalf("passives = %q", labels["Passives"])
	}
}

func TestWeaponAllowsNewItem(t *testing.T) {
	enricher := &stubEnricher{answer: "```json\n{\"name\": \"Tiny Lahn\", \"min_dps\": 100, \"main_option\": {\"stat\": \"Atk\", \"is_range\": true, \"minimum_value\": 5, \"maximum_value\": 10}}\n```"}
	in := Input{Item: mustParse(t, workitem.KindWeapon, "weapon-information/tiny-lahn_abc.jpg"), ImageURL: "u"}
	strategy := Weapon()
	if !strategy.AllowMissingEntity() {
		t.Fatal("weapon should allow new items")
	}
	res, err := strategy.Build(context.Background(), enricher, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Fields["item_id"] != int64(0) {
		t.Fatalf("item_id = %#v", res.Fields["item_id"])
	}
	if !strings.HasSuffix(enricher.last.Instructions, "null") {
		t.Fatal("instructions should carry the (missing) stored record")
	}
	var found bool
	for _, f := range res.Embed.Fields {
		if f.Name == "Main Option" {
			found = f.Value == "Atk 5 - 10"
		}
	}
	if !found {
		t.Fatalf("main option not rendered: %+v", res.Embed.Fields)
	}
	if res.Embed.Title != "Item Information - tiny-lahn" {
		t.Fatalf("title = %q", res.Embed.Title)
	}
}

func TestEmptyEnrichmentIsRejected(t *testing.T) {
	in := Input{Item: mustParse(t, workitem.KindStory, "hero-stories/lahn_abc.jpg"), EntityFound: true}
	if _, err := Story().Build(context.Background(), &stubEnricher{answer: "{}"}, in); err == nil {
		t.Fatal("expected error for empty enrichment")
	}
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 120, B: 90, A: 255})
		}
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	return data
}

func TestPortraitBuild(t *testing.T) {
	in := Input{
		Item:        mustParse(t, workitem.KindPortrait, "hero-portraits/lahn_global_abc.png"),
		Entity:      refcache.Entity{ID: 7, Title: "Lahn"},
		EntityFound: true,
		Image:       solidPNG(t, 30, 20),
	}
	strategy := Portrait()
	if !strategy.NeedsImage() {
		t.Fatal("portrait needs the image bytes")
	}
	res, err := strategy.Build(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Attachment == nil || res.Attachment.ContentType != "image/jpeg" || res.Attachment.Filename != "lahn.jpg" {
		t.Fatalf("attachment = %+v", res.Attachment)
	}
	img, _, err := imaging.Decode(res.Attachment.Data)
	if err != nil {
		t.Fatalf("decode attachment: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 30 {
		t.Fatalf("landscape portrait should be rotated, got %v", b)
	}
	if res.Fields["region"] != "global" || res.Fields["hero_id"] != int64(7) {
		t.Fatalf("fields = %#v", res.Fields)
	}
}

func TestIllustrationCropValidation(t *testing.T) {
	in := Input{
		Item:        mustParse(t, workitem.KindIllustration, "hero-illustrations/lahn_kr_abc.png"),
		Entity:      refcache.Entity{ID: 7, Title: "Lahn"},
		EntityFound: true,
		Image:       solidPNG(t, 40, 40),
	}
	res, err := Illustration().Build(context.Background(), &stubEnricher{answer: `{"x": 5, "y": 5, "width": 20, "height": 20}`}, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Fields["width"] != 20 || res.Attachment.ContentType != "image/png" {
		t.Fatalf("result = %#v", res.Fields)
	}
	if _, err := Illustration().Build(context.Background(), &stubEnricher{answer: `{"x": 30, "y": 30, "width": 20, "height": 20}`}, in); err == nil {
		t.Fatal("expected out-of-bounds crop to fail")
	}
}

func TestHeroCostumeBuild(t *testing.T) {
	strategy := Costume()
	item := mustParse(t, workitem.KindCostume, "costumes/hero_royal-crown_lahn_abc.png")
	companions := strategy.(CompanionResolver).Companions(item)
	if len(companions) != 1 || companions[0].Arg != workitem.ArgHero || !companions[0].Required {
		t.Fatalf("companions = %+v", companions)
	}
	in := Input{
		Item:        item,
		Entity:      refcache.Entity{ID: 90, Slug: "royal-crown", Title: "Royal Crown"},
		EntityFound: true,
		Image:       solidPNG(t, 200, 160),
		Companions:  map[string]refcache.Entity{workitem.ArgHero: {ID: 7, Title: "Lahn"}},
	}
	res, err := strategy.Build(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Fields["item_id"] != int64(90) || res.Fields["hero_id"] != int64(7) {
		t.Fatalf("fields = %#v", res.Fields)
	}
	if _, ok := res.Fields["item_type"]; ok {
		t.Fatalf("hero costume should not carry an item type: %#v", res.Fields)
	}
	if res.Embed.Title != "Costume - Royal Crown" || len(res.Embed.Fields) != 1 || res.Embed.Fields[0].Value != "Lahn" {
		t.Fatalf("embed = %+v", res.Embed)
	}
	if res.Attachment == nil || res.Attachment.Filename != "royal-crown.jpg" {
		t.Fatalf("attachment = %+v", res.Attachment)
	}
	img, _, err := imaging.Decode(res.Attachment.Data)
	if err != nil {
		t.Fatalf("decode attachment: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 75 || b.Dy() != 75 {
		t.Fatalf("icon bounds = %v", b)
	}
}

func TestEquipmentCostumeBuild(t *testing.T) {
	strategy := Costume()
	item := mustParse(t, workitem.KindCostume, "costumes/equipment_royal-crown_two-handed-sword_abc.png")
	if companions := strategy.(CompanionResolver).Companions(item); len(companions) != 0 {
		t.Fatalf("equipment costume should not resolve a hero, got %+v", companions)
	}
	in := Input{
		Item:        item,
		Entity:      refcache.Entity{ID: 90, Title: "Royal Crown"},
		EntityFound: true,
		Image:       solidPNG(t, 200, 160),
	}
	res, err := strategy.Build(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Fields["item_type"] != "Two-Handed Sword" {
		t.Fatalf("fields = %#v", res.Fields)
	}

	in.Item = mustParse(t, workitem.KindCostume, "costumes/equipment_royal-crown_spoon_abc.png")
	if _, err := strategy.Build(context.Background(), nil, in); err == nil || !strings.Contains(err.Error(), "spoon") {
		t.Fatalf("expected unknown equipment type error, got %v", err)
	}
}

func TestCostumeIllustrationBuild(t *testing.T) {
	strategy := CostumeIllustration()
	item := mustParse(t, workitem.KindCostumeIllustration, "costume-illustrations/super_royal-crown_lahn_abc.png")
	companions := strategy.(CompanionResolver).Companions(item)
	if len(companions) != 1 || companions[0].Required {
		t.Fatalf("hero lookup should be optional, got %+v", companions)
	}
	in := Input{
		Item:        item,
		Entity:      refcache.Entity{ID: 90, Title: "Royal Crown"},
		EntityFound: true,
		Image:       solidPNG(t, 40, 30),
	}
	res, err := strategy.Build(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Fields["item_id"] != int64(90) || len(res.Fields) != 1 {
		t.Fatalf("fields = %#v", res.Fields)
	}
	if res.Embed.Title != "Super Costume - Royal Crown" || len(res.Embed.Fields) != 0 {
		t.Fatalf("embed without hero = %+v", res.Embed)
	}
	if res.Attachment == nil || res.Attachment.ContentType != "image/png" || res.Attachment.Filename != "royal-crown.png" {
		t.Fatalf("attachment = %+v", res.Attachment)
	}

	in.Companions = map[string]refcache.Entity{workitem.ArgHero: {ID: 7, Title: "Lahn"}}
	res, err = strategy.Build(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("Build with hero: %v", err)
	}
	if len(res.Embed.Fields) != 1 || res.Embed.Fields[0].Name != "Hero" {
		t.Fatalf("embed with hero = %+v", res.Embed)
	}
}

func TestRegistryRestrict(t *testing.T) {
	reg := DefaultRegistry()
	if got := len(reg.Kinds()); got != 8 {
		t.Fatalf("kinds = %d", got)
	}
	restricted, err := reg.Restrict([]string{"stats", "hero-bios"})
	if err != nil {
		t.Fatalf("Restrict: %v", err)
	}
	kinds := restricted.Kinds()
	if len(kinds) != 2 || kinds[0] != workitem.KindBio || kinds[1] != workitem.KindStats {
		t.Fatalf("kinds = %v", kinds)
	}
	if _, err := reg.Restrict([]string{"pets"}); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestEmbeddedPromptsPresent(t *testing.T) {
	for _, name := range []string{"system", "story", "bio", "stats", "weapon", "illustration"} {
		if prompt(name) == "" {
			t.Fatalf("prompt %s empty", name)
		}
	}
}

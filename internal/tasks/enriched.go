package tasks

import (
	"context"
	"fmt"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/enrich"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// enrichedStrategy turns a screenshot into field updates through one vision
// call. Most kinds are an instance of it.
type enrichedStrategy struct {
	kind         workitem.Kind
	collection   string
	endpoint     string
	title        string
	entityKey    string
	prompt       string
	fields       []fieldSpec
	allowMissing bool
	// withRecord appends the entity's stored record to the instructions.
	withRecord bool
}

func (s *enrichedStrategy) Kind() workitem.Kind      { return s.kind }
func (s *enrichedStrategy) Collection() string       { return s.collection }
func (s *enrichedStrategy) Endpoint() string         { return s.endpoint }
func (s *enrichedStrategy) AllowMissingEntity() bool { return s.allowMissing }
func (s *enrichedStrategy) NeedsImage() bool         { return false }

func (s *enrichedStrategy) Build(ctx context.Context, enricher Enricher, in Input) (Result, error) {
	instructions := s.prompt
	if s.withRecord {
		record := "null"
		if in.EntityFound && len(in.Entity.Raw) > 0 {
			record = string(in.Entity.Raw)
		}
		instructions += "\n\n" + record
	}
	var extracted map[string]any
	if _, err := enricher.ClassifyJSON(ctx, enrich.Request{
		System:       prompt("system"),
		Instructions: instructions,
		ImageURL:     in.ImageURL,
	}, &extracted); err != nil {
		return Result{}, err
	}
	if len(extracted) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "tasks", string(s.kind), "enrichment returned no fields", nil)
	}

	var entityID int64
	if in.EntityFound {
		entityID = in.Entity.ID
	}
	fields := map[string]any{s.entityKey: entityID}
	embed := approval.Embed{
		Title:       fmt.Sprintf("%s - %s", s.title, in.DisplayName()),
		Description: "Here's what I found in your image:",
		Color:       approval.ColorPending,
		Footer:      approval.DefaultFooter,
	}
	if !in.EntityFound {
		embed.Description = "No existing record matched; this will create a new entry."
	}
	if region := in.Item.Arg(workitem.ArgRegion); region != "" {
		fields[workitem.ArgRegion] = region
		embed.AddField("Region", region, true)
	}
	for _, spec := range s.fields {
		value := spec.normalize(extracted[spec.key])
		fields[spec.key] = value
		if isBlank(value) {
			continue
		}
		embed.AddField(spec.displayLabel(), spec.display(value), spec.inline)
	}
	return Result{Fields: fields, Embed: embed}, nil
}

// Story transcribes a hero's story text.
func Story() Strategy {
	return &enrichedStrategy{
		kind:       workitem.KindStory,
		collection: cms.CollectionHeroes,
		endpoint:   "update-story",
		title:      "Hero Story",
		entityKey:  "hero_id",
		prompt:     prompt("story"),
		fields:     []fieldSpec{{key: "story"}},
	}
}

// Bio transcribes a hero's profile lines.
func Bio() Strategy {
	return &enrichedStrategy{
		kind:       workitem.KindBio,
		collection: cms.CollectionHeroes,
		endpoint:   "update-bio",
		title:      "Hero Bio",
		entityKey:  "hero_id",
		prompt:     prompt("bio"),
		fields: []fieldSpec{
			{key: "age", inline: true},
			{key: "height", inline: true},
			{key: "weight", inline: true},
			{key: "species", inline: true},
			{key: "role", inline: true},
			{key: "element", inline: true},
			{key: "rarity", inline: true},
		},
	}
}

// Stats reads the numeric stat panel and party passives.
func Stats() Strategy {
	numeric := func(key, label string) fieldSpec {
		return fieldSpec{key: key, label: label, inline: true}
	}
	return &enrichedStrategy{
		kind:       workitem.KindStats,
		collection: cms.CollectionHeroes,
		endpoint:   "update-stats",
		title:      "Hero Stats",
		entityKey:  "hero_id",
		prompt:     prompt("stats"),
		fields: []fieldSpec{
			numeric("atk", "ATK"),
			numeric("def", "DEF"),
			numeric("hp", "HP"),
			numeric("crit", ""),
			numeric("heal", ""),
			numeric("damage_reduction", ""),
			numeric("basic_resistance", ""),
			numeric("light_resistance", ""),
			numeric("dark_resistance", ""),
			numeric("fire_resistance", ""),
			numeric("earth_resistance", ""),
			numeric("water_resistance", ""),
			{key: "compatible_equipment", list: true},
			{key: "passives", list: true, format: formatPassives},
		},
	}
}

// Weapon reads a weapon card. Unknown weapons are created as new items.
func Weapon() Strategy {
	return &enrichedStrategy{
		kind:         workitem.KindWeapon,
		collection:   cms.CollectionItems,
		endpoint:     "update-weapon",
		title:        "Item Information",
		entityKey:    "item_id",
		prompt:       prompt("weapon"),
		allowMissing: true,
		withRecord:   true,
		fields: []fieldSpec{
			{key: "name"},
			{key: "rarity", inline: true},
			{key: "weapon_type", inline: true},
			{key: "exclusive", inline: true},
			{key: "hero", inline: true},
			{key: "exclusive_effects"},
			{key: "min_dps", label: "Min DPS", inline: true},
			{key: "max_dps", label: "Max DPS", inline: true},
			{key: "weapon_skill_name"},
			{key: "weapon_skill_atk", inline: true},
			{key: "weapon_skill_regen_time", inline: true},
			{key: "weapon_skill_chain", inline: true},
			{key: "weapon_skill_description"},
			{key: "main_option", list: true, format: formatOptions},
			{key: "sub_option", list: true, format: formatOptions},
			{key: "engraving_options", list: true},
			{key: "limit_break_5_option", inline: true},
			{key: "limit_break_5_value", inline: true},
			{key: "max_lines", inline: true},
		},
	}
}

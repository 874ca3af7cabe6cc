package tasks

import (
	"context"
	"fmt"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/imaging"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// Icon crop on a costume preview screenshot, as fractions of the image width
// (left, side) and height (top).
const (
	costumeCropLeft = 0.3111
	costumeCropTop  = 0.2796
	costumeCropSide = 0.3759
)

// itemTypeLabels maps equipment type slugs to their display labels.
var itemTypeLabels = map[string]string{
	"one-handed-sword":     "One-Handed Sword",
	"two-handed-sword":     "Two-Handed Sword",
	"rifle":                "Rifle",
	"bow":                  "Bow",
	"basket":               "Basket",
	"staff":                "Staff",
	"gauntlet":             "Gauntlet",
	"claw":                 "Claw",
	"shield":               "Shield",
	"accessory":            "Accessory",
	"costume":              "Hero Costume",
	"equipment-costume":    "Equipment Costume",
	"illustration-costume": "Illustration Costume",
	"card":                 "Card",
	"merch":                "Merch",
	"relic":                "Relic",
}

// ItemTypeLabel returns the display label for an equipment type slug.
func ItemTypeLabel(slug string) (string, bool) {
	label, ok := itemTypeLabels[slug]
	return label, ok
}

type costumeStrategy struct{}

// Costume crops the icon out of a costume preview. Hero costumes link the
// item to a hero; equipment costumes record the equipment type instead.
func Costume() Strategy { return costumeStrategy{} }

func (costumeStrategy) Kind() workitem.Kind      { return workitem.KindCostume }
func (costumeStrategy) Collection() string       { return cms.CollectionItems }
func (costumeStrategy) Endpoint() string         { return "update-costume" }
func (costumeStrategy) AllowMissingEntity() bool { return false }
func (costumeStrategy) NeedsImage() bool         { return true }

func (costumeStrategy) Companions(item workitem.Item) []Companion {
	if item.Arg(workitem.ArgVariant) != workitem.CostumeHero {
		return nil
	}
	return []Companion{{Arg: workitem.ArgHero, Collection: cms.CollectionHeroes, Required: true}}
}

func (costumeStrategy) Build(_ context.Context, _ Enricher, in Input) (Result, error) {
	embed := approval.Embed{
		Title:       "Costume - " + in.DisplayName(),
		Description: "I did my best!",
		Color:       approval.ColorPending,
		Footer:      approval.DefaultFooter,
	}
	fields := map[string]any{"item_id": in.Entity.ID}
	switch in.Item.Arg(workitem.ArgVariant) {
	case workitem.CostumeHero:
		hero, ok := in.Companion(workitem.ArgHero)
		if !ok {
			return Result{}, services.Wrap(services.ErrValidation, "tasks", "costume",
				fmt.Sprintf("hero %q not resolved", in.Item.Arg(workitem.ArgHero)), nil)
		}
		fields["hero_id"] = hero.ID
		embed.AddField("Hero", hero.Title, true)
	default:
		slug := in.Item.Arg(workitem.ArgItemType)
		label, ok := ItemTypeLabel(slug)
		if !ok {
			return Result{}, services.Wrap(services.ErrValidation, "tasks", "costume",
				fmt.Sprintf("unknown equipment type %q", slug), nil)
		}
		fields["item_type"] = label
		embed.AddField("Type", label, true)
	}

	img, err := decodeInput(workitem.KindCostume, in)
	if err != nil {
		return Result{}, err
	}
	icon, err := imaging.CropSquare(img, costumeCropLeft, costumeCropTop, costumeCropSide)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "tasks", "costume", "crop icon", err)
	}
	data, err := imaging.EncodeJPEG(icon)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Fields:     fields,
		Embed:      embed,
		Attachment: &cms.Attachment{Filename: in.Item.Entity() + ".jpg", ContentType: "image/jpeg", Data: data},
	}, nil
}

type costumeIllustrationStrategy struct{}

// CostumeIllustration uploads a super costume illustration as-is. The hero
// is only looked up for the approval message.
func CostumeIllustration() Strategy { return costumeIllustrationStrategy{} }

func (costumeIllustrationStrategy) Kind() workitem.Kind      { return workitem.KindCostumeIllustration }
func (costumeIllustrationStrategy) Collection() string       { return cms.CollectionItems }
func (costumeIllustrationStrategy) Endpoint() string         { return "update-super-illustration" }
func (costumeIllustrationStrategy) AllowMissingEntity() bool { return false }
func (costumeIllustrationStrategy) NeedsImage() bool         { return true }

func (costumeIllustrationStrategy) Companions(workitem.Item) []Companion {
	return []Companion{{Arg: workitem.ArgHero, Collection: cms.CollectionHeroes}}
}

func (costumeIllustrationStrategy) Build(_ context.Context, _ Enricher, in Input) (Result, error) {
	img, err := decodeInput(workitem.KindCostumeIllustration, in)
	if err != nil {
		return Result{}, err
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return Result{}, err
	}
	embed := approval.Embed{
		Title:       "Super Costume - " + in.DisplayName(),
		Description: "Here's what you gave me:",
		Color:       approval.ColorPending,
		Footer:      approval.DefaultFooter,
	}
	if hero, ok := in.Companion(workitem.ArgHero); ok {
		embed.AddField("Hero", hero.Title, true)
	}
	return Result{
		Fields:     map[string]any{"item_id": in.Entity.ID},
		Embed:      embed,
		Attachment: &cms.Attachment{Filename: in.Item.Entity() + ".png", ContentType: "image/png", Data: data},
	}, nil
}

package tasks

import (
	"context"
	"fmt"
	"image"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/enrich"
	"scribe/internal/imaging"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

type portraitStrategy struct{}

// Portrait trims the letterbox bars off a portrait screenshot and uploads it.
func Portrait() Strategy { return portraitStrategy{} }

func (portraitStrategy) Kind() workitem.Kind      { return workitem.KindPortrait }
func (portraitStrategy) Collection() string       { return cms.CollectionHeroes }
func (portraitStrategy) Endpoint() string         { return "update-portrait" }
func (portraitStrategy) AllowMissingEntity() bool { return false }
func (portraitStrategy) NeedsImage() bool         { return true }

func (portraitStrategy) Build(_ context.Context, _ Enricher, in Input) (Result, error) {
	img, err := decodeInput(workitem.KindPortrait, in)
	if err != nil {
		return Result{}, err
	}
	trimmed := imaging.TrimBars(img)
	data, err := imaging.EncodeJPEG(trimmed)
	if err != nil {
		return Result{}, err
	}
	region := in.Item.Arg(workitem.ArgRegion)
	embed := approval.Embed{
		Title:       "Hero Portrait - " + in.DisplayName(),
		Description: "Here's the cropped portrait:",
		Color:       approval.ColorPending,
		Footer:      approval.DefaultFooter,
	}
	embed.AddField("Region", region, true)
	embed.AddField("Size", fmt.Sprintf("%dx%d", trimmed.Bounds().Dx(), trimmed.Bounds().Dy()), true)
	return Result{
		Fields:     map[string]any{"hero_id": in.Entity.ID, "region": region},
		Embed:      embed,
		Attachment: &cms.Attachment{Filename: in.Item.Entity() + ".jpg", ContentType: "image/jpeg", Data: data},
	}, nil
}

type illustrationStrategy struct{}

// Illustration uploads a full illustration plus a model-chosen thumbnail crop.
func Illustration() Strategy { return illustrationStrategy{} }

func (illustrationStrategy) Kind() workitem.Kind      { return workitem.KindIllustration }
func (illustrationStrategy) Collection() string       { return cms.CollectionHeroes }
func (illustrationStrategy) Endpoint() string         { return "update-illustration" }
func (illustrationStrategy) AllowMissingEntity() bool { return false }
func (illustrationStrategy) NeedsImage() bool         { return true }

type cropBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (illustrationStrategy) Build(ctx context.Context, enricher Enricher, in Input) (Result, error) {
	img, err := decodeInput(workitem.KindIllustration, in)
	if err != nil {
		return Result{}, err
	}
	var crop cropBox
	if _, err := enricher.ClassifyJSON(ctx, enrich.Request{
		System:       prompt("system"),
		Instructions: prompt("illustration"),
		ImageURL:     in.ImageURL,
	}, &crop); err != nil {
		return Result{}, err
	}
	bounds := img.Bounds()
	rect := image.Rect(crop.X, crop.Y, crop.X+crop.Width, crop.Y+crop.Height)
	if crop.Width <= 0 || crop.Height <= 0 || !rect.In(bounds) {
		return Result{}, services.Wrap(services.ErrValidation, "tasks", "illustration",
			fmt.Sprintf("crop %v outside image %v", rect, bounds), nil)
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return Result{}, err
	}
	region := in.Item.Arg(workitem.ArgRegion)
	embed := approval.Embed{
		Title:       "Hero Illustration - " + in.DisplayName(),
		Description: "Here's what you gave me:",
		Color:       approval.ColorPending,
		Footer:      approval.DefaultFooter,
	}
	embed.AddField("Region", region, true)
	embed.AddField("Crop Data", fmt.Sprintf("x: %d, y: %d, width: %d, height: %d", crop.X, crop.Y, crop.Width, crop.Height), false)
	return Result{
		Fields: map[string]any{
			"hero_id": in.Entity.ID,
			"region":  region,
			"x":       crop.X,
			"y":       crop.Y,
			"width":   crop.Width,
			"height":  crop.Height,
		},
		Embed:      embed,
		Attachment: &cms.Attachment{Filename: in.Item.Entity() + ".png", ContentType: "image/png", Data: data},
	}, nil
}

func decodeInput(kind workitem.Kind, in Input) (image.Image, error) {
	if len(in.Image) == 0 {
		return nil, services.Wrap(services.ErrValidation, "tasks", string(kind), "image bytes missing", nil)
	}
	img, _, err := imaging.Decode(in.Image)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "tasks", string(kind), "decode image", err)
	}
	return img, nil
}

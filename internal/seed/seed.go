// Package seed populates the document store with generated engagement
// targets for development and testing.
package seed

import (
	"context"
	"fmt"
	"log"

	"ripple/internal/docstore"
	"ripple/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

// Options configuration for the seeder
type Options struct {
	NumTargets  int
	MaxLikes    int
	MaxComments int
	MaxShares   int
	MaxViews    int
	Seed        uint64
}

func (o *Options) defaults() {
	if o.NumTargets <= 0 {
		o.NumTargets = 30
	}
	if o.MaxLikes <= 0 {
		o.MaxLikes = 25
	}
	if o.MaxComments <= 0 {
		o.MaxComments = 40
	}
	if o.MaxShares <= 0 {
		o.MaxShares = 10
	}
	if o.MaxViews <= 0 {
		o.MaxViews = 2000
	}
}

var contentTypes = []models.ContentType{
	models.ContentTypePost,
	models.ContentTypeMoment,
	models.ContentTypeStory,
}

// Targets populates the store with generated targets carrying realistic
// engagement state.
func Targets(ctx context.Context, store docstore.Store, opts Options) error {
	opts.defaults()
	faker := gofakeit.New(int64(opts.Seed))

	log.Printf("Seeding %d engagement targets...", opts.NumTargets)

	for i := 0; i < opts.NumTargets; i++ {
		target := FakeTarget(faker, contentTypes[i%len(contentTypes)])
		doc := FakeEngagementDoc(faker, opts)
		if err := writeTarget(ctx, store, target, doc); err != nil {
			return fmt.Errorf("seed target %s: %w", target.Key(), err)
		}
	}

	log.Printf("Seeded %d targets", opts.NumTargets)
	return nil
}

// FakeTarget generates a plausible target reference.
func FakeTarget(faker *gofakeit.Faker, contentType models.ContentType) models.TargetRef {
	return models.TargetRef{
		ContentID:   faker.UUID(),
		ContentType: contentType,
	}
}

// FakeUser generates a plausible user snapshot.
func FakeUser(faker *gofakeit.Faker) models.UserInfo {
	return models.UserInfo{
		UserID:      faker.UUID(),
		DisplayName: faker.Name(),
		PhotoURL:    faker.ImageURL(128, 128),
	}
}

// FakeEngagementDoc generates a raw target document. Half the documents use
// the explicit count encoding, the other half only carry the like array, to
// exercise both accepted payload forms.
func FakeEngagementDoc(faker *gofakeit.Faker, opts Options) map[string]interface{} {
	numLikes := faker.IntRange(0, opts.MaxLikes)
	likes := make([]interface{}, 0, numLikes)
	for i := 0; i < numLikes; i++ {
		user := FakeUser(faker)
		likes = append(likes, map[string]interface{}{
			"userId":      user.UserID,
			"displayName": user.DisplayName,
			"photoURL":    user.PhotoURL,
			"timestamp":   faker.Date(),
		})
	}

	doc := map[string]interface{}{
		"likes":         likes,
		"commentsCount": int64(faker.IntRange(0, opts.MaxComments)),
		"sharesCount":   int64(faker.IntRange(0, opts.MaxShares)),
		"viewsCount":    int64(faker.IntRange(0, opts.MaxViews)),
	}
	if faker.Bool() {
		doc["likesCount"] = int64(numLikes)
	}
	return doc
}

func writeTarget(ctx context.Context, store docstore.Store, target models.TargetRef, doc map[string]interface{}) error {
	return store.RunTransaction(ctx, target, func(tx docstore.Tx) error {
		return tx.Set(doc)
	})
}

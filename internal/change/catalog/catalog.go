// Package catalog binds the entity kinds the service manages to their
// validation and derivation rules. Every kind shares one store and gateway;
// the kind only changes which fields are accepted and how the next state is
// computed.
package catalog

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"changegate/internal/change/models"
	"changegate/internal/change/ports"
	"changegate/internal/change/service"
	platformstrings "changegate/pkg/platform/strings"
)

const (
	KindSite             models.EntityKind = "site"
	KindBanner           models.EntityKind = "banner"
	KindRefreshmentPoint models.EntityKind = "refreshment_point"
	KindBookmark         models.EntityKind = "bookmark"
	KindTag              models.EntityKind = "tag"
	KindFeedback         models.EntityKind = "feedback"
	KindPreference       models.EntityKind = "preference"
	KindPassword         models.EntityKind = "password"
)

// PasswordHashField holds the bcrypt hash stored for a password entity.
const PasswordHashField = "password_hash"

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

type config struct {
	bcryptCost int
}

type Option func(*config)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(c *config) {
		c.bcryptCost = cost
	}
}

// Kinds lists every kind the catalog binds, in a stable order.
func Kinds() []models.EntityKind {
	return []models.EntityKind{
		KindSite, KindBanner, KindRefreshmentPoint, KindBookmark,
		KindTag, KindFeedback, KindPreference, KindPassword,
	}
}

// Bindings returns a binding per catalog kind backed by store and gateway.
func Bindings(store ports.LocalStateStore, gateway ports.RemoteSyncGateway, opts ...Option) map[models.EntityKind]service.Binding {
	cfg := config{bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&cfg)
	}

	bind := func(v ports.ValidatorFunc, d ports.Deriver) service.Binding {
		return service.Binding{Validator: v, Store: store, Gateway: gateway, Deriver: d}
	}
	return map[models.EntityKind]service.Binding{
		KindSite:             bind(validateSite, service.DefaultDeriver),
		KindBanner:           bind(validateBanner, service.DefaultDeriver),
		KindRefreshmentPoint: bind(validateRefreshmentPoint, service.DefaultDeriver),
		KindBookmark:         bind(validateBookmark, service.DefaultDeriver),
		KindTag:              bind(validateTag, service.DefaultDeriver),
		KindFeedback:         bind(validateFeedback, service.DefaultDeriver),
		KindPreference:       bind(validatePreference, ports.DeriverFunc(derivePreference)),
		KindPassword:         bind(validatePassword, passwordDeriver(cfg.bcryptCost)),
	}
}

func validateSite(_ context.Context, req models.ChangeRequest) []string {
	if req.Operation == models.OperationDelete {
		return nil
	}
	c := newChecker(req)
	c.only("name", "address", "city", "description")
	c.text("name", true, 100)
	c.text("address", true, 200)
	c.text("city", true, 80)
	c.text("description", false, 1000)
	return c.problems
}

func validateBanner(_ context.Context, req models.ChangeRequest) []string {
	if req.Operation == models.OperationDelete {
		return nil
	}
	c := newChecker(req)
	c.only("name", "image_path", "refreshment_point_id")
	c.text("name", true, 100)
	c.text("refreshment_point_id", true, 64)
	if img := c.text("image_path", true, 255); img != "" {
		ext := strings.ToLower(path.Ext(img))
		if !slices.Contains(imageExtensions, ext) {
			c.addf("image_path must be one of %s", strings.Join(imageExtensions, ", "))
		}
	}
	return c.problems
}

func validateRefreshmentPoint(_ context.Context, req models.ChangeRequest) []string {
	if req.Operation == models.OperationDelete {
		return nil
	}
	c := newChecker(req)
	c.only("name", "location", "opening_hours", "seats")
	c.text("name", true, 100)
	c.text("location", true, 200)
	c.text("opening_hours", false, 100)
	c.integer("seats", false, 0, 10000)
	return c.problems
}

func validateBookmark(_ context.Context, req models.ChangeRequest) []string {
	if req.Operation == models.OperationDelete {
		return nil
	}
	c := newChecker(req)
	c.only("tourist_id", "site_id", "note")
	c.text("tourist_id", true, 64)
	c.text("site_id", true, 64)
	c.text("note", false, 280)
	return c.problems
}

func validateTag(_ context.Context, req models.ChangeRequest) []string {
	if req.Operation == models.OperationDelete {
		return nil
	}
	c := newChecker(req)
	c.only("name", "description")
	if name := c.text("name", true, 30); name != "" && strings.ContainsAny(name, " \t\n") {
		c.addf("name must be a single word")
	}
	c.text("description", false, 200)
	return c.problems
}

func validateFeedback(_ context.Context, req models.ChangeRequest) []string {
	if req.Operation == models.OperationDelete {
		return nil
	}
	c := newChecker(req)
	c.only("tourist_id", "site_id", "vote", "comment")
	c.text("tourist_id", true, 64)
	c.text("site_id", true, 64)
	c.integer("vote", true, 1, 5)
	c.text("comment", false, 500)
	return c.problems
}

func validatePreference(_ context.Context, req models.ChangeRequest) []string {
	if req.Operation == models.OperationDelete {
		return nil
	}
	c := newChecker(req)
	c.only("tourist_id", "tags")
	c.text("tourist_id", true, 64)
	c.list("tags", true, 20, 30)
	return c.problems
}

// derivePreference stores tags lowercased and deduplicated.
func derivePreference(prior models.EntityState, req models.ChangeRequest) (models.EntityState, error) {
	req = req.Clone()
	if tags, ok := asStrings(req.Payload["tags"]); ok {
		req.Payload["tags"] = platformstrings.DedupeAndTrimLower(tags)
	}
	return service.DefaultDeriver.Derive(prior, req)
}

func validatePassword(_ context.Context, req models.ChangeRequest) []string {
	c := newChecker(req)
	if req.Operation == models.OperationDelete {
		c.addf("password cannot be deleted")
		return c.problems
	}
	c.only("password", "confirmation")
	pw, _ := req.Payload["password"].(string)
	if _, ok := req.Payload["password"]; !ok {
		c.addf("password is required")
	} else if _, isString := req.Payload["password"].(string); !isString {
		c.addf("password must be a string")
	} else {
		if len(pw) < 8 {
			c.addf("password must be at least 8 characters")
		}
		if len(pw) > maxPasswordBytes {
			c.addf("password must be at most %d bytes", maxPasswordBytes)
		}
	}
	if confirmation, _ := req.Payload["confirmation"].(string); confirmation != pw {
		c.addf("confirmation does not match password")
	}
	return c.problems
}

// passwordDeriver replaces the cleartext with its bcrypt hash so only the
// hash reaches the store and the remote system.
func passwordDeriver(cost int) ports.Deriver {
	return ports.DeriverFunc(func(prior models.EntityState, req models.ChangeRequest) (models.EntityState, error) {
		pw, _ := req.Payload["password"].(string)
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
		if err != nil {
			return models.EntityState{}, fmt.Errorf("hash password: %w", err)
		}

		req = req.Clone()
		req.Payload = models.Fields{PasswordHashField: string(hash)}
		if prior.Exists {
			// Update merges, so drop anything an earlier state carried.
			for k := range prior.Fields {
				if k != PasswordHashField {
					req.Payload[k] = nil
				}
			}
		}
		return service.DefaultDeriver.Derive(prior, req)
	})
}

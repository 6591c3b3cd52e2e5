// Package directory resolves a recipient key to a deliverable contact.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notifyqueue/internal/model"
	"notifyqueue/internal/repository"
)

// ErrNotFound means the recipient has no usable contact address.
var ErrNotFound = errors.New("contact not found")

type Directory interface {
	Resolve(ctx context.Context, recipientKey string) (model.Contact, error)
}

// StoreDirectory reads recipient_contacts through the notification store.
type StoreDirectory struct {
	store repository.ContactStore
}

func NewStoreDirectory(store repository.ContactStore) *StoreDirectory {
	return &StoreDirectory{store: store}
}

func (d *StoreDirectory) Resolve(ctx context.Context, recipientKey string) (model.Contact, error) {
	c, err := d.store.FindContact(ctx, recipientKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Contact{}, ErrNotFound
		}
		return model.Contact{}, fmt.Errorf("failed to resolve contact %s: %w", recipientKey, err)
	}
	return usable(*c)
}

// StaticEntry is one configured contact.
type StaticEntry struct {
	DisplayName string `yaml:"display_name"`
	Address     string `yaml:"address"`
}

// StaticDirectory serves contacts from configuration.
type StaticDirectory struct {
	contacts map[string]StaticEntry
}

func NewStaticDirectory(contacts map[string]StaticEntry) *StaticDirectory {
	if contacts == nil {
		contacts = map[string]StaticEntry{}
	}
	return &StaticDirectory{contacts: contacts}
}

func (d *StaticDirectory) Resolve(_ context.Context, recipientKey string) (model.Contact, error) {
	e, ok := d.contacts[recipientKey]
	if !ok {
		return model.Contact{}, ErrNotFound
	}
	return usable(model.Contact{RecipientKey: recipientKey, DisplayName: e.DisplayName, Address: e.Address})
}

func usable(c model.Contact) (model.Contact, error) {
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		return model.Contact{}, ErrNotFound
	}
	return c, nil
}

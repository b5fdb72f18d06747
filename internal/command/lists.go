// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/stagecache/internal/tracker"
)

var errNoLists = errors.New("no list providers configured")

// AddList validates and stores a new import list. The provider kind
// must be registered; the name must be unique.
func (c *Commands) AddList(ctx context.Context, l tracker.ImportList, actor string) (*tracker.ImportList, error) {
	if strings.TrimSpace(l.Name) == "" {
		return nil, errors.New("list name required")
	}
	if c.registry == nil {
		return nil, errNoLists
	}
	if _, err := c.registry.Provider(l.ProviderKind); err != nil {
		return nil, err
	}

	stored, err := c.store.AddList(ctx, l)
	if err != nil {
		return nil, err
	}
	c.audit.ListAdded(actor, stored.ID, stored.Name, stored.ProviderKind)
	c.logEvent("info", fmt.Sprintf("list %q added", stored.Name))
	c.logger.Info().
		Str("event", "command.add_list").
		Str("actor", actor).
		Str("list_id", stored.ID).
		Str("provider_kind", stored.ProviderKind).
		Msg("import list added")
	return stored, nil
}

// RemoveList deletes an import list and drops its cached snapshot.
// Entries the list caused stay on the fast tier until retention reaps
// them.
func (c *Commands) RemoveList(ctx context.Context, id, actor string) error {
	if err := c.store.RemoveList(ctx, id); err != nil {
		c.audit.ListRemoved(actor, id, "failure")
		return err
	}
	if c.resolver != nil {
		c.resolver.Forget(id)
	}
	c.audit.ListRemoved(actor, id, "success")
	c.logEvent("info", fmt.Sprintf("list %s removed", id))
	c.logger.Info().
		Str("event", "command.remove_list").
		Str("actor", actor).
		Str("list_id", id).
		Msg("import list removed")
	return nil
}

// RefreshList forces a provider fetch for one list regardless of its
// refresh period.
func (c *Commands) RefreshList(ctx context.Context, id, actor string) error {
	if c.resolver == nil {
		return errNoLists
	}
	if err := c.resolver.RefreshList(ctx, id); err != nil {
		c.audit.ListRefreshed(actor, id, "failure")
		c.logEvent("error", fmt.Sprintf("list %s refresh failed: %v", id, err))
		return err
	}
	c.audit.ListRefreshed(actor, id, "success")
	c.logEvent("info", fmt.Sprintf("list %s refreshed", id))
	return nil
}

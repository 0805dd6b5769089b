package auth

import (
	"context"

	"github.com/flightdeck/flightdeck/internal/navigation"
	"github.com/flightdeck/flightdeck/internal/rbac"
	"github.com/flightdeck/flightdeck/internal/view"
)

type storeContextKey struct{}

// ContextWithStore stores the request's identity store in context.
func ContextWithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// StoreFromContext extracts the identity store from context.
func StoreFromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeContextKey{}).(*Store)
	return store
}

// PageChrome builds the header and sidebar for the store's principal.
func PageChrome(store *Store) view.Chrome {
	if store == nil || !store.IsAuthenticated() {
		return view.Chrome{}
	}
	user := store.User()
	if user == nil {
		return view.Chrome{}
	}
	viewer := &view.Viewer{
		Name:         user.Name,
		Email:        user.Email,
		RoleLabel:    rbac.PrimaryTier(user.Roles).Label(),
		ProfileImage: user.ProfileImage,
	}
	if user.Organization != nil {
		viewer.Organization = user.Organization.Name
	}
	return view.Chrome{Viewer: viewer, Menu: navigation.Menu(user.Roles)}
}

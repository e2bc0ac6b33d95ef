package api

import (
	"context"
	"slices"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/store"
)

// Preference defaults and allowed values.
const (
	DefaultTheme     = "light"
	DefaultActiveTab = "chat"
)

var (
	themes = []string{"light", "dark"}
	tabs   = []string{"chat", "new-chat", "profile", "friends", "settings"}
)

// getPreferences returns the global theme and, when signed in, the user's
// active tab. Unset keys report their defaults.
func (s *Service) getPreferences(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	global, err := s.DB.Preferences(store.GlobalScope)
	if err != nil {
		return nil, model.Wrap(model.Transient, MethodGetPreferences, err)
	}
	out := map[string]any{store.PrefTheme: orDefault(global[store.PrefTheme], DefaultTheme)}
	if uid := s.Coordinator.UserID(); uid != "" {
		user, err := s.DB.Preferences(uid)
		if err != nil {
			return nil, model.Wrap(model.Transient, MethodGetPreferences, err)
		}
		out[store.PrefActiveTab] = orDefault(user[store.PrefActiveTab], DefaultActiveTab)
	}
	return reply(out)
}

func (s *Service) setPreference(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, value := str(in, "key"), str(in, "value")
	var scope string
	switch key {
	case store.PrefTheme:
		if !slices.Contains(themes, value) {
			return nil, model.Errorf(model.Invalid, MethodSetPreference, "theme must be one of %v", themes)
		}
		scope = store.GlobalScope
	case store.PrefActiveTab:
		if !slices.Contains(tabs, value) {
			return nil, model.Errorf(model.Invalid, MethodSetPreference, "active_tab must be one of %v", tabs)
		}
		if scope = s.Coordinator.UserID(); scope == "" {
			return nil, model.ErrNotSignedIn
		}
	default:
		return nil, model.Errorf(model.Invalid, MethodSetPreference, "unknown preference %q", key)
	}
	if err := s.DB.SetPreference(scope, key, value); err != nil {
		return nil, model.Wrap(model.Transient, MethodSetPreference, err)
	}
	return reply(map[string]any{key: value})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

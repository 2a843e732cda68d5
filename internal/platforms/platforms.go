// Package platforms holds the static platform descriptor registry. Descriptors
// are configuration: read-only at run time, validated once at startup.
package platforms

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/exportd/internal/types"
)

var builtin = []types.PlatformDescriptor{
	{
		ID:          "github",
		Name:        "Repositories",
		Company:     "GitHub",
		HomeURL:     "https://github.com",
		SupportedOS: []string{"darwin", "linux", "windows"},
	},
	{
		ID:              "twitter-bookmarks",
		Name:            "Bookmarks",
		Company:         "Twitter",
		HomeURL:         "https://x.com",
		SupportedOS:     []string{"darwin", "linux", "windows"},
		ExportFrequency: types.FrequencyDaily,
	},
	{
		ID:              "twitter-feed",
		Name:            "Feed",
		Company:         "Twitter",
		HomeURL:         "https://x.com",
		SupportedOS:     []string{"darwin", "linux", "windows"},
		ExportFrequency: types.FrequencyHourly,
	},
	{
		ID:          "notion",
		Name:        "Workspace",
		Company:     "Notion",
		HomeURL:     "https://www.notion.so",
		SupportedOS: []string{"darwin", "linux", "windows"},
	},
	{
		ID:          "chatgpt",
		Name:        "Conversations",
		Company:     "OpenAI",
		HomeURL:     "https://chatgpt.com",
		SupportedOS: []string{"darwin", "linux", "windows"},
	},
	{
		ID:          "linkedin",
		Name:        "Profile",
		Company:     "LinkedIn",
		HomeURL:     "https://www.linkedin.com",
		SupportedOS: []string{"darwin", "linux", "windows"},
	},
	{
		ID:               "gmail",
		Name:             "Mail",
		Company:          "Google",
		HomeURL:          "https://mail.google.com",
		SupportedOS:      []string{"darwin", "linux", "windows"},
		ExportFrequency:  types.FrequencyDaily,
		NeedsCredentials: true,
	},
}

// All returns every descriptor, keyed by platform id.
func All() (map[string]types.PlatformDescriptor, error) {
	v := validator.New()
	out := make(map[string]types.PlatformDescriptor, len(builtin))
	for _, desc := range builtin {
		if err := v.Struct(desc); err != nil {
			return nil, fmt.Errorf("invalid platform descriptor %q: %w", desc.ID, err)
		}
		if _, dup := out[desc.ID]; dup {
			return nil, fmt.Errorf("duplicate platform id %q", desc.ID)
		}
		out[desc.ID] = desc
	}
	return out, nil
}

// Lookup returns the descriptor for id.
func Lookup(id string) (types.PlatformDescriptor, error) {
	all, err := All()
	if err != nil {
		return types.PlatformDescriptor{}, err
	}
	desc, ok := all[id]
	if !ok {
		return types.PlatformDescriptor{}, fmt.Errorf("unknown platform %q", id)
	}
	return desc, nil
}

// HostFragment returns the registrable host part of the descriptor's home URL,
// used to scope captured cookies and headers.
func HostFragment(desc types.PlatformDescriptor) string {
	u, err := url.Parse(desc.HomeURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

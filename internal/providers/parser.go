package providers

import "strings"

// ProviderRef is one entry of a provider list: a provider name and an
// optional key alias, as in "openai:work".
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

// ParseProviderList splits a "|"-separated provider list. Names are
// lower-cased, repeated entries are kept once and an empty list means mock.
func ParseProviderList(raw string) []ProviderRef {
	var out []ProviderRef
	seen := map[string]bool{}
	for _, p := range strings.Split(raw, "|") {
		name, alias, _ := strings.Cut(strings.TrimSpace(p), ":")
		ref := ProviderRef{
			Name:     strings.ToLower(strings.TrimSpace(name)),
			KeyAlias: strings.TrimSpace(alias),
		}
		if ref.Name == "" {
			continue
		}
		ref.Raw = ref.Name
		if ref.KeyAlias != "" {
			ref.Raw += ":" + ref.KeyAlias
		}
		if seen[ref.Raw] {
			continue
		}
		seen[ref.Raw] = true
		out = append(out, ref)
	}
	if len(out) == 0 {
		out = append(out, ProviderRef{Raw: "mock", Name: "mock"})
	}
	return out
}

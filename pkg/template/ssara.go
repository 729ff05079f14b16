package template

import (
	"slices"
)

// SsaraArgs converts ssaraopt.<name> entries into --<name>=<value>
// arguments for the federated query client, sorted by name.
func SsaraArgs(values Values) []string {
	opts := values.WithPrefix(PrefixSsara)

	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	slices.Sort(names)

	args := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, "--"+name+"="+opts[name])
	}
	return args
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// parseEnvPairs turns repeated --env K=V flags into a map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env pair %q (want KEY=VALUE)", p)
		}
		out[k] = v
	}
	return out, nil
}

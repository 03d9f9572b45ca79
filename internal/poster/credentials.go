package poster

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/subosito/gotenv"
)

// CredentialsStatus is what the dashboard shows for a platform.
type CredentialsStatus struct {
	Configured bool   `json:"configured"`
	Account    string `json:"account,omitempty"`
	// Missing lists required keys absent from the env file.
	Missing []string `json:"missing,omitempty"`
}

// readEnvFile parses KEY=value lines. A missing file is an empty set.
func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func missingKeys(env map[string]string, required []string) []string {
	var missing []string
	for _, k := range required {
		if env[k] == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

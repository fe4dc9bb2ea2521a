package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleQueryReader   = "query_reader"
	RoleHistoryReader = "history_reader"
	RoleVoiceUser     = "voice_user"
	// RoleAll grants every role.
	RoleAll = "*"
)

var knownRoles = []string{RoleAll, RoleHistoryReader, RoleQueryReader, RoleVoiceUser}

// Identity is the authenticated caller. ClientID also keys rate limiting
// and query history.
type Identity struct {
	ClientID string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role) || slices.Contains(i.Roles, RoleAll)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys from configuration. Only SHA-256
// digests of the keys are retained.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses comma separated "key:client:role|role"
// entries. Unknown roles and duplicate keys are rejected.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for index, entry := range strings.Split(spec, ",") {
		key, identity, err := parseEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("static key entry %d: %w", index+1, err)
		}
		digest := sha256.Sum256([]byte(key))
		if _, exists := validator.keys[digest]; exists {
			return nil, fmt.Errorf("static key entry %d: duplicate key", index+1)
		}
		validator.keys[digest] = identity
	}
	return validator, nil
}

// parseEntry never echoes the key itself in errors.
func parseEntry(entry string) (string, Identity, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("expected key:client:role|role")
	}
	key := strings.TrimSpace(parts[0])
	clientID := strings.TrimSpace(parts[1])
	if key == "" || clientID == "" {
		return "", Identity{}, fmt.Errorf("empty key or client")
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		role = strings.TrimSpace(role)
		if role == "" || slices.Contains(roles, role) {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return "", Identity{}, fmt.Errorf("unknown role %q for client %q", role, clientID)
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("client %q needs at least one role", clientID)
	}
	slices.Sort(roles)
	return key, Identity{ClientID: clientID, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}

// Len reports how many keys are configured.
func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}

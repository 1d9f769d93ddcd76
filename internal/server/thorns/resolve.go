package thorns

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/rosepanel/internal/common"
)

// SUIDPrefix marks a server unique id.
const SUIDPrefix = "thorn_"

const (
	suidAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suidLength   = 8
)

// NewSUID draws a fresh server unique id. Callers must check it is unused.
func NewSUID() (string, error) {
	s, err := common.RandomString(suidLength, suidAlphabet)
	if err != nil {
		return "", err
	}
	return SUIDPrefix + s, nil
}

// IsSUID reports whether s looks like a server unique id.
func IsSUID(s string) bool {
	return strings.HasPrefix(s, SUIDPrefix)
}

// Resolve maps a SUID or a display identifier to the SUID. Display names are
// matched case-insensitively by scanning every record.
func (m *Manager) Resolve(ctx context.Context, idOrName string) (string, error) {
	idOrName = strings.TrimSpace(idOrName)
	if idOrName == "" || strings.ContainsAny(idOrName, `/\`) {
		return "", fmt.Errorf("%w: %q", common.ErrServerDoesNotExist, idOrName)
	}

	if IsSUID(idOrName) {
		if !m.record(idOrName).Exists() {
			return "", fmt.Errorf("%w: %s", common.ErrServerDoesNotExist, idOrName)
		}
		return idOrName, nil
	}

	servers, err := m.List(ctx, "")
	if err != nil {
		return "", err
	}
	for _, s := range servers {
		if strings.EqualFold(s.Identifier, idOrName) {
			return s.SUID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", common.ErrServerDoesNotExist, idOrName)
}

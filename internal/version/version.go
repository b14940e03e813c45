// Package version хранит сведения о сборке, подставляемые через
// -ldflags "-X github.com/vladislavdragonenkov/shopcart/internal/version.version=...".
package version

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает текущую сборку.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// Fields возвращает поля для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
	}
}

// ClientID строит client.id для Kafka: shopcart-<component>-<version>.
// Символы вне [A-Za-z0-9._-] заменяются на '-'.
func ClientID(component string) string {
	return Current().clientID(component)
}

func (b Build) clientID(component string) string {
	id := "shopcart-" + component + "-" + b.Version
	return strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, id)
}

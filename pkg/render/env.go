package render

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/provisio/provisio/pkg/config"
)

// Database identity shared by the db and app services.
const (
	DatabaseName = "provisio"
	DatabaseUser = "provisio"
	DatabasePort = 5432
)

// DatabaseURL returns the connection URI the application uses.
func DatabaseURL(password string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(DatabaseUser, password),
		Host:     fmt.Sprintf("%s:%d", ServiceDB, DatabasePort),
		Path:     "/" + DatabaseName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// StackEnv renders the env file shared by the db and app services. It is
// the only artifact that carries the database password.
//
// Values are single-quoted so compose reads them literally: no $VAR
// interpolation, no " #" comments and no quote stripping. The manifest
// rejects passwords containing ' or \, which single quotes cannot carry.
func StackEnv(m config.Manifest) []byte {
	vars := map[string]string{
		"POSTGRES_DB":       DatabaseName,
		"POSTGRES_USER":     DatabaseUser,
		"POSTGRES_PASSWORD": m.Context.DBPassword,
		"DATABASE_URL":      DatabaseURL(m.Context.DBPassword),
		"APP_PORT":          fmt.Sprint(m.App.Port),
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString("# Generated by provisio. Changes are overwritten on the next apply.\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s='%s'\n", k, vars[k])
	}
	return []byte(b.String())
}

package migrate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/wpshift/wpshift/pkg/errors"
	"github.com/wpshift/wpshift/pkg/remote"
)

var (
	wpDefineRe = regexp.MustCompile(`define\(\s*['"]([A-Z_]+)['"]\s*,\s*['"]([^'"]*)['"]\s*\)`)
	wpPrefixRe = regexp.MustCompile(`\$table_prefix\s*=\s*['"]([^'"]+)['"]`)
)

// ExtractDBConfig reads a host's wp-config.php over the session and parses
// the database constants and table prefix out of it. Used when the operator
// did not supply source database credentials explicitly.
func ExtractDBConfig(sess remote.Session, root string) (DBConfig, error) {
	path := root + "/wp-config.php"

	data, err := sess.ReadFile(path)
	if err != nil {
		return DBConfig{}, errors.Wrap(err, "failed to read wp-config.php")
	}

	defines := map[string]string{}
	for _, m := range wpDefineRe.FindAllStringSubmatch(string(data), -1) {
		defines[m[1]] = m[2]
	}

	cfg := DBConfig{
		Name:     defines["DB_NAME"],
		User:     defines["DB_USER"],
		Password: defines["DB_PASSWORD"],
		Host:     defines["DB_HOST"],
	}
	if cfg.Name == "" || cfg.User == "" {
		return DBConfig{}, fmt.Errorf("wp-config.php at %s is missing DB_NAME or DB_USER", path)
	}

	if m := wpPrefixRe.FindStringSubmatch(string(data)); m != nil {
		cfg.TablePrefix = m[1]
	}

	return cfg, nil
}

// saltChars deliberately omits characters that are fragile inside sed
// replacement text or single-quoted shell arguments.
const saltChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#%^*()-_=+[]{}<>?.,:;"

// saltKeys are the wp-config.php authentication constants regenerated after
// migration so stale session cookies from the source site cannot carry over.
var saltKeys = []string{
	"AUTH_KEY", "SECURE_AUTH_KEY", "LOGGED_IN_KEY", "NONCE_KEY",
	"AUTH_SALT", "SECURE_AUTH_SALT", "LOGGED_IN_SALT", "NONCE_SALT",
}

// generateSalt returns a 64-character random salt.
func generateSalt() (string, error) {
	out := make([]byte, 64)
	bound := big.NewInt(int64(len(saltChars)))
	for i := range out {
		n, err := rand.Int(rand.Reader, bound)
		if err != nil {
			return "", errors.Wrap(err, "failed to generate salt")
		}
		out[i] = saltChars[n.Int64()]
	}
	return string(out), nil
}

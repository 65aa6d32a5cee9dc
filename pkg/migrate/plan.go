// Package migrate implements the database, filesystem, and post-migration
// steps on top of the remote session and relay pipeline abstractions. Each
// step issues remote commands whose success is reported through process exit
// status; none requires interactive input.
package migrate

// DBConfig describes one WordPress database.
type DBConfig struct {
	Name        string
	User        string
	Password    string
	Host        string
	TablePrefix string
}

// Empty reports whether the config still needs to be discovered.
func (c DBConfig) Empty() bool { return c.Name == "" }

// HostOrDefault returns the configured host, defaulting to localhost the way
// wp-config.php does.
func (c DBConfig) HostOrDefault() string {
	if c.Host == "" {
		return "localhost"
	}
	return c.Host
}

// PrefixOrDefault returns the table prefix, defaulting to the stock "wp_".
func (c DBConfig) PrefixOrDefault() string {
	if c.TablePrefix == "" {
		return "wp_"
	}
	return c.TablePrefix
}

// Plan is the fully resolved migration record handed to the engine by the
// config layer. The engine trusts its shape; the validation gate re-checks
// its truth.
type Plan struct {
	SourceRoot string
	TargetRoot string

	SourceDB DBConfig
	TargetDB DBConfig

	// OldURL/NewURL drive the post-migration search-and-replace.
	OldURL string
	NewURL string

	// WebUser owns the migrated tree on the target (chown target).
	WebUser string

	// BackupTarget copies any existing target document root aside before the
	// filesystem step overwrites it.
	BackupTarget bool

	// TargetRootPassword, when set, lets the database step create the target
	// database and user if they are missing.
	TargetRootPassword string

	// EnableDebug toggles WP_DEBUG in the rewritten wp-config.php.
	EnableDebug bool
}

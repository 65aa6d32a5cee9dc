package validate

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/wpshift/wpshift/pkg/migrate"
	"github.com/wpshift/wpshift/pkg/remote"
)

// Disk-space policy: the target filesystem should hold the source tree with
// at least 20% headroom. Between 1.0x and 1.2x the gate passes with a
// warning; below 1.0x it fails fatally.
const (
	diskHeadroomRatio = 1.2
	diskMinimumRatio  = 1.0
)

var wpVersionRe = regexp.MustCompile(`\$wp_version\s*=\s*'([^']+)'`)

// checkConnectivity confirms both sessions execute commands, reporting the
// remote hostnames for the audit trail.
func (g *Gate) checkConnectivity(ctx context.Context) Check {
	c := Check{Name: "connectivity", Fatal: true}

	srcHost, err := hostname(ctx, g.Source)
	if err != nil {
		c.Outcome = Fail
		c.Detail = "source host: " + err.Error()
		return c
	}
	tgtHost, err := hostname(ctx, g.Target)
	if err != nil {
		c.Outcome = Fail
		c.Detail = "target host: " + err.Error()
		return c
	}

	c.Outcome = Pass
	c.Detail = fmt.Sprintf("source=%s target=%s", srcHost, tgtHost)
	return c
}

// checkTargetStack verifies the target can serve the migrated site: a web
// server, a MySQL-compatible server, and a PHP runtime must all be present.
func (g *Gate) checkTargetStack(ctx context.Context) Check {
	c := Check{Name: "target-stack", Fatal: true}

	var missing []string
	probes := []struct {
		name string
		cmd  string
	}{
		{"web-server", "command -v apache2 || command -v httpd || command -v nginx"},
		{"mysql-client", "command -v mysql"},
		{"mysql-server", "command -v mysqld || command -v mariadbd || test -S /var/run/mysqld/mysqld.sock"},
		{"php", "command -v php"},
	}
	for _, p := range probes {
		res, err := g.Target.Run(ctx, p.cmd)
		if err != nil {
			c.Outcome = Fail
			c.Detail = p.name + " probe: " + err.Error()
			return c
		}
		if res.ExitCode != 0 {
			missing = append(missing, p.name)
		}
	}

	if len(missing) > 0 {
		c.Outcome = Fail
		c.Detail = "missing on target: " + strings.Join(missing, ", ")
		return c
	}
	c.Outcome = Pass
	c.Detail = "web server, mysql, and php present"
	return c
}

// checkTargetDatabase proves the supplied target credentials actually
// authenticate by running a trivial query. A missing target database is
// tolerated when the migration is allowed to create it.
func (g *Gate) checkTargetDatabase(ctx context.Context) Check {
	c := Check{Name: "target-database", Fatal: true}
	db := g.Params.TargetDB

	res, err := g.Target.Run(ctx, migrate.Query(db, "SELECT 1"))
	if err != nil {
		c.Outcome = Fail
		c.Detail = err.Error()
		return c
	}
	if res.ExitCode != 0 {
		c.Outcome = Fail
		c.Detail = fmt.Sprintf("target database credentials rejected (exit %d): %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
		return c
	}

	c.Outcome = Pass
	c.Detail = fmt.Sprintf("authenticated against %s as %s", db.HostOrDefault(), db.User)
	return c
}

// checkDiskSpace compares the source tree's size against the free space on
// the target filesystem that will hold it.
func (g *Gate) checkDiskSpace(ctx context.Context) Check {
	c := Check{Name: "disk-space"}

	usedMB, err := remoteInt(ctx, g.Source,
		fmt.Sprintf("du -sm %s | cut -f1", g.Params.SourceRoot))
	if err != nil {
		c.Outcome = Fail
		c.Fatal = true
		c.Detail = "source size: " + err.Error()
		return c
	}

	// The target root may not exist yet; measure its parent filesystem.
	freeMB, err := remoteInt(ctx, g.Target,
		fmt.Sprintf("df -m %s | tail -1 | awk '{print $4}'", path.Dir(g.Params.TargetRoot)))
	if err != nil {
		c.Outcome = Fail
		c.Fatal = true
		c.Detail = "target free space: " + err.Error()
		return c
	}

	if usedMB <= 0 {
		usedMB = 1
	}
	ratio := float64(freeMB) / float64(usedMB)
	c.Detail = fmt.Sprintf("source uses %d MB, target has %d MB free (%.1fx)", usedMB, freeMB, ratio)

	switch {
	case ratio >= diskHeadroomRatio:
		c.Outcome = Pass
	case ratio >= diskMinimumRatio:
		c.Outcome = Warning
		c.Detail += "; headroom below 20%"
	default:
		c.Outcome = Fail
		c.Fatal = true
		c.Detail += "; insufficient space"
	}
	return c
}

// checkSourceTree verifies the source document root is a readable WordPress
// installation, and reports its core version when determinable.
func (g *Gate) checkSourceTree(ctx context.Context) Check {
	c := Check{Name: "source-wordpress", Fatal: true}
	root := g.Params.SourceRoot

	res, err := g.Source.Run(ctx, fmt.Sprintf("test -d %s && test -r %s", root, root))
	if err != nil {
		c.Outcome = Fail
		c.Detail = err.Error()
		return c
	}
	if res.ExitCode != 0 {
		c.Outcome = Fail
		c.Detail = fmt.Sprintf("source root %s is not a readable directory", root)
		return c
	}

	res, err = g.Source.Run(ctx, fmt.Sprintf("test -f %s/wp-config.php", root))
	if err != nil {
		c.Outcome = Fail
		c.Detail = err.Error()
		return c
	}
	if res.ExitCode != 0 {
		c.Outcome = Fail
		c.Detail = fmt.Sprintf("no wp-config.php under %s; not a WordPress root", root)
		return c
	}

	c.Outcome = Pass
	c.Detail = "WordPress installation found"
	if version, err := g.Source.ReadFile(root + "/wp-includes/version.php"); err == nil {
		if m := wpVersionRe.FindSubmatch(version); m != nil {
			c.Detail = "WordPress " + string(m[1])
		}
	}
	return c
}

// checkSourceDatabase confirms the source database exists and its credentials
// read from it, so the dump step cannot fail on authentication mid-run.
func (g *Gate) checkSourceDatabase(ctx context.Context) Check {
	c := Check{Name: "source-database", Fatal: true}
	db := g.Params.SourceDB

	res, err := g.Source.Run(ctx, migrate.Query(db, "SELECT 1"))
	if err != nil {
		c.Outcome = Fail
		c.Detail = err.Error()
		return c
	}
	if res.ExitCode != 0 {
		c.Outcome = Fail
		c.Detail = fmt.Sprintf("source database %s unreachable (exit %d): %s",
			db.Name, res.ExitCode, strings.TrimSpace(res.Stderr))
		return c
	}

	c.Outcome = Pass
	c.Detail = fmt.Sprintf("source database %s reachable as %s", db.Name, db.User)
	return c
}

func hostname(ctx context.Context, sess remote.Session) (string, error) {
	res, err := sess.Run(ctx, "hostname")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("hostname failed (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

func remoteInt(ctx context.Context, sess remote.Session, cmd string) (int64, error) {
	res, err := sess.Run(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("command failed (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
}
